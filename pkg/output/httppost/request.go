package httppost

import "strconv"

const (
	contentType = "application/json"
	// room for the decimal Content-Length value
	maxLengthDigits = 20
)

// RequestCapacity is the size of a request for the given path, host and
// payload capacity.
func RequestCapacity(path, host string, payloadCap int) int {
	return len("POST ") + len(path) + len(" HTTP/1.1\r\n") +
		len("Host: ") + len(host) + len("\r\n") +
		len("Content-Type: ") + len(contentType) + len("\r\n") +
		len("Content-Length: ") + maxLengthDigits + len("\r\n") +
		len("\r\n") + payloadCap
}

// BuildRequest frames payload as an HTTP/1.1 POST. Only the headers the
// collector needs are sent; Content-Length is the exact payload size.
func BuildRequest(dst *Buffer, path, host string, payload []byte) error {
	var num [maxLengthDigits]byte
	parts := []string{
		"POST ", path, " HTTP/1.1\r\n",
		"Host: ", host, "\r\n",
		"Content-Type: ", contentType, "\r\n",
		"Content-Length: ", string(strconv.AppendInt(num[:0], int64(len(payload)), 10)), "\r\n",
		"\r\n",
	}
	for _, p := range parts {
		if _, err := dst.WriteString(p); err != nil {
			return err
		}
	}
	_, err := dst.Write(payload)
	return err
}
