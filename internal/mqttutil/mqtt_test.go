package mqttutil

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-presence/internal/mqttutil/mqtttest"
)

func TestPublishJSON(t *testing.T) {
	client := mqtttest.NewClient()
	require.NoError(t, PublishJSON(client, "fleet/test", 1, true, map[string]int{"n": 3}))

	pub := client.Published()
	require.Len(t, pub, 1)
	assert.Equal(t, "fleet/test", pub[0].Topic)
	assert.True(t, pub[0].Retained)

	var body map[string]int
	require.NoError(t, json.Unmarshal(pub[0].Payload, &body))
	assert.Equal(t, 3, body["n"])
}

func TestPublishJSON_BrokerError(t *testing.T) {
	client := mqtttest.NewClient()
	client.PublishErr = errors.New("broker down")
	err := PublishJSON(client, "fleet/test", 0, false, "x")
	assert.ErrorContains(t, err, "broker down")
}

func TestPublishJSON_Unencodable(t *testing.T) {
	err := PublishJSON(mqtttest.NewClient(), "fleet/test", 0, false, make(chan int))
	assert.Error(t, err)
}
