package bus

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

func TestNewRequiresAtLeastOneBroker(t *testing.T) {
	_, err := New(Config{TopicCommands: "commands", TopicResponses: "responses"}, "commands", nil)
	require.Error(t, err)
}

func TestAcksMapsQoSToKafkaAckLevel(t *testing.T) {
	require.Equal(t, kgo.NoAck(), Config{QoS: 0}.acks())
	require.Equal(t, kgo.LeaderAck(), Config{QoS: 1}.acks())
	require.Equal(t, kgo.AllISRAcks(), Config{QoS: 2}.acks())
	require.Equal(t, kgo.AllISRAcks(), Config{QoS: 99}.acks(), "unrecognized qos defaults to the strongest ack level")
}
