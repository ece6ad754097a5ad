package gateway

import (
	"strconv"
	"strings"
	"time"
)

// appendEnvelope hand-builds
// {"channel":..,"data":..,"ts":..,"seq":N,"channel_seq":M}
// so the hot path skips json.Marshal. data must already be valid JSON and
// channel must not need escaping.
func appendEnvelope(buf []byte, channel string, data []byte, now time.Time, seq, channelSeq int64) []byte {
	if buf == nil {
		buf = make([]byte, 0, len(channel)+len(data)+160)
	}
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	buf = append(buf, '}')
	return buf
}

// parsedChannel holds the components of "pub:ind:{NAME}:{TF}s:{EXCHANGE}:{TOKEN}".
type parsedChannel struct {
	indName  string
	tf       int
	exchange string
	token    string
}

func (p *parsedChannel) symbol() string { return p.exchange + ":" + p.token }

// parseChannel returns nil for anything that is not an indicator channel.
func parseChannel(channel string) *parsedChannel {
	parts := strings.Split(channel, ":")
	if len(parts) != 6 || parts[0] != "pub" || parts[1] != "ind" {
		return nil
	}
	tf, err := strconv.Atoi(strings.TrimSuffix(parts[3], "s"))
	if err != nil || tf <= 0 {
		return nil
	}
	return &parsedChannel{
		indName:  parts[2],
		tf:       tf,
		exchange: parts[4],
		token:    parts[5],
	}
}
