package redis

import (
	"encoding/json"

	"github.com/pkg/errors"

	"stochroc/internal/model"
)

// Message is one candle read from a stream, with its origin so the
// consumer can track per-stream offsets.
type Message struct {
	Stream string
	ID     string
	Candle model.Candle
}

var errNoData = errors.New("stream entry has no data field")

// decodeCandle parses the "data" field written by the candle producer.
func decodeCandle(values map[string]interface{}) (model.Candle, error) {
	var c model.Candle
	raw, ok := values["data"]
	if !ok {
		return c, errNoData
	}

	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return c, errors.Errorf("unexpected data type %T", raw)
	}

	if err := json.Unmarshal(data, &c); err != nil {
		return c, errors.Wrap(err, "unmarshal candle")
	}
	return c, nil
}
