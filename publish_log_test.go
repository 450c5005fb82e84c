package darkpool

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/0x5487/darkpool/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogPublishLog(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogPublishLog(slog.New(slog.NewJSONHandler(&buf, nil)))

	view := NewPoolView()
	memory := NewMemoryPublishLog()
	tp := newTestPool(t, WithPublishLog(MultiPublishLog{sink, view, memory}))
	tp.mustInitialize(t, 30)

	exec, _, _ := tp.mustMatch(t)
	_, err := tp.SettleTrade(context.Background(), &protocol.SettleTradeCommand{ExecutionID: exec.ID, FillAmount: 10_000})
	require.NoError(t, err)

	var lines []map[string]any
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.Len(t, lines, memory.Count())
	assert.Equal(t, uint64(memory.Count()), view.SequenceID())

	first := lines[0]
	assert.Equal(t, "dark pool event", first["msg"])
	assert.Equal(t, string(protocol.EventOrderSubmitted), first["type"])
	assert.Equal(t, "buyer", first["owner"])

	last := lines[len(lines)-1]
	assert.Equal(t, string(protocol.EventTradeSettled), last["type"])
	assert.Equal(t, exec.ID, last["execution_id"])
	assert.Equal(t, float64(9970), last["amount"])
	assert.Equal(t, float64(30), last["fee"])
	assert.NotContains(t, last, "order_id")
}
