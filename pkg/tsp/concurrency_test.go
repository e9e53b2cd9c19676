package tsp

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"testing"
)

// The responder and verifier share no mutable state between calls, so
// concurrent use from many goroutines must be safe.
func TestU_Responder_Concurrent(t *testing.T) {
	tsa := newTestTSA(t)
	responder := &Responder{Config: tsa.config}

	const workers = 16
	var wg sync.WaitGroup
	errCh := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			digest := sha256.Sum256([]byte(fmt.Sprintf("worker %d", n)))
			req, err := NewRequest(digest[:], SHA256, RequestOptions{Nonce: true, CertReq: true})
			if err != nil {
				errCh <- err
				return
			}
			reqDER, err := req.Marshal()
			if err != nil {
				errCh <- err
				return
			}
			respDER, err := responder.Respond(reqDER)
			if err != nil {
				errCh <- err
				return
			}
			resp, err := ParseResponse(respDER)
			if err != nil {
				errCh <- err
				return
			}
			result, err := Verify(resp.Token, VerifyOptions{
				Digest:    digest[:],
				Algorithm: SHA256,
				Nonce:     req.Nonce,
				Roots:     tsa.roots,
			})
			if err != nil {
				errCh <- err
				return
			}
			if !result.Accepted {
				errCh <- fmt.Errorf("token rejected: %v", result.Reason)
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Error(err)
	}
}

// Serials from the default generator must be unique and positive across
// concurrent draws.
func TestU_SerialGenerator_Concurrent(t *testing.T) {
	gen := &RandomSerialGenerator{}

	const draws = 64
	var mu sync.Mutex
	seen := make(map[string]bool, draws)
	var wg sync.WaitGroup

	for i := 0; i < draws; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serial, err := gen.Next()
			if err != nil {
				t.Errorf("Next failed: %v", err)
				return
			}
			if serial.Sign() <= 0 {
				t.Errorf("Serial %s is not positive", serial)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			key := serial.String()
			if seen[key] {
				t.Errorf("Duplicate serial %s", serial)
			}
			seen[key] = true
		}()
	}
	wg.Wait()
}
