package providers

import (
	"bufio"
	"io"
	"strings"
)

const sseDone = "[DONE]"

// sseDecoder yields the data payload of each server-sent event.
type sseDecoder struct {
	r   *bufio.Reader
	buf []string
}

func newSSEDecoder(r io.Reader) *sseDecoder {
	return &sseDecoder{r: bufio.NewReader(r)}
}

// next returns the joined data lines of one event, or io.EOF.
func (d *sseDecoder) next() (string, error) {
	for {
		line, err := d.r.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if out, ok := d.flush(); ok {
				return out, nil
			}
			if err == io.EOF {
				return "", io.EOF
			}
			continue
		}
		if strings.HasPrefix(line, "data:") {
			d.buf = append(d.buf, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
		if err == io.EOF {
			if out, ok := d.flush(); ok {
				return out, nil
			}
			return "", io.EOF
		}
	}
}

func (d *sseDecoder) flush() (string, bool) {
	if len(d.buf) == 0 {
		return "", false
	}
	out := strings.Join(d.buf, "\n")
	d.buf = d.buf[:0]
	return out, true
}
