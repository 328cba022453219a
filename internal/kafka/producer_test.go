package kafka

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPublishAfterCloseIsDropped(t *testing.T) {
	p := NewProducer([]string{"localhost:9092"}, 4, zaptest.NewLogger(t))

	p.Publish("pos.order.settled", []byte("t1:dev-1"), []byte(`{}`))
	require.Len(t, p.inbox, 1)

	p.Close()
	require.NotPanics(t, func() {
		p.Publish("pos.order.settled", []byte("t1:dev-1"), []byte(`{}`))
	})
	p.Close()

	var drained int
	for range p.inbox {
		drained++
	}
	require.Equal(t, 1, drained)
}
