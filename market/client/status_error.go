package client

import "fmt"

func statusError(code int, body []byte) error {
	return fmt.Errorf("unexpected status %d: %s", code, body)
}
