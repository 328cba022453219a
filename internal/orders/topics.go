package orders

const (
	TopicOrderCreated  = "pos.order.created"
	TopicOrderSettled  = "pos.order.settled"
	TopicOrderExpired  = "pos.order.expired"
	TopicOrderRefunded = "pos.order.refunded"
)

// Partition key = tenant:device, so a device sees its orders in order.
func PartitionKey(tenantID, deviceID string) []byte { return []byte(tenantID + ":" + deviceID) }
