package tsp

import (
	"context"
	"crypto/sha256"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestServer(t *testing.T, tsa *testTSA) *httptest.Server {
	t.Helper()
	responder := &Responder{Config: tsa.config}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != ContentTypeQuery {
			t.Errorf("Content-Type = %q, want %q", ct, ContentTypeQuery)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("Failed to read request body: %v", err)
		}
		respDER, err := responder.Respond(body)
		if err != nil {
			t.Errorf("Respond failed: %v", err)
		}
		w.Header().Set("Content-Type", ContentTypeReply)
		w.Write(respDER)
	}))
}

// =============================================================================
// Client Tests
// =============================================================================

func TestU_Client_RequestTimestamp(t *testing.T) {
	tsa := newTestTSA(t)
	srv := newTestServer(t, tsa)
	defer srv.Close()

	digest := sha256.Sum256([]byte("client test"))
	client := NewClient()
	req, resp, err := client.RequestTimestamp(context.Background(), srv.URL, SHA256, digest[:],
		RequestOptions{Nonce: true, CertReq: true})
	if err != nil {
		t.Fatalf("RequestTimestamp failed: %v", err)
	}
	if !resp.IsGranted() {
		t.Fatalf("Status = %d, want granted", resp.Status.Status)
	}

	result, err := Verify(resp.Token, VerifyOptions{
		Digest:    digest[:],
		Algorithm: SHA256,
		Nonce:     req.Nonce,
		Roots:     tsa.roots,
	})
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Accepted {
		t.Errorf("Token rejected: %v", result.Reason)
	}
}

func TestU_Client_Rejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		der, _ := NewRejectionResponse(FailUnacceptedPolicy, "no").Marshal()
		w.Header().Set("Content-Type", ContentTypeReply)
		w.Write(der)
	}))
	defer srv.Close()

	digest := sha256.Sum256([]byte("rejected"))
	_, _, err := NewClient().RequestTimestamp(context.Background(), srv.URL, SHA256, digest[:],
		RequestOptions{})
	if !errors.Is(err, ErrTSARejected) {
		t.Errorf("Expected ErrTSARejected, got %v", err)
	}
}

func TestU_Client_WrongContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>not a timestamp</html>"))
	}))
	defer srv.Close()

	digest := sha256.Sum256([]byte("content type"))
	_, _, err := NewClient().RequestTimestamp(context.Background(), srv.URL, SHA256, digest[:],
		RequestOptions{})
	if !errors.Is(err, ErrTransportFailure) {
		t.Errorf("Expected ErrTransportFailure, got %v", err)
	}
}

func TestU_Client_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	digest := sha256.Sum256([]byte("server error"))
	_, _, err := NewClient().RequestTimestamp(context.Background(), srv.URL, SHA256, digest[:],
		RequestOptions{})
	if !errors.Is(err, ErrTransportFailure) {
		t.Errorf("Expected ErrTransportFailure, got %v", err)
	}
}

func TestU_Client_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	digest := sha256.Sum256([]byte("timeout"))
	client := NewClient(WithTimeout(50 * time.Millisecond))
	_, _, err := client.RequestTimestamp(context.Background(), srv.URL, SHA256, digest[:],
		RequestOptions{})
	if !errors.Is(err, ErrTransportTimeout) {
		t.Errorf("Expected ErrTransportTimeout, got %v", err)
	}
}

func TestU_Client_ContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	digest := sha256.Sum256([]byte("cancel"))
	_, _, err := NewClient().RequestTimestamp(ctx, srv.URL, SHA256, digest[:], RequestOptions{})
	if !errors.Is(err, ErrTransportTimeout) {
		t.Errorf("Expected ErrTransportTimeout, got %v", err)
	}
}

func TestU_Client_NonceNotEchoed(t *testing.T) {
	tsa := newTestTSA(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Answer with a token for a nonce-free request, so the client's
		// nonce is never echoed.
		body, _ := io.ReadAll(r.Body)
		req, err := ParseRequest(body)
		if err != nil {
			t.Errorf("ParseRequest failed: %v", err)
			return
		}
		req.Nonce = nil
		stripped, _ := req.Marshal()
		responder := &Responder{Config: tsa.config}
		respDER, _ := responder.Respond(stripped)
		w.Header().Set("Content-Type", ContentTypeReply)
		w.Write(respDER)
	}))
	defer srv.Close()

	digest := sha256.Sum256([]byte("nonce echo"))
	_, _, err := NewClient().RequestTimestamp(context.Background(), srv.URL, SHA256, digest[:],
		RequestOptions{Nonce: true, CertReq: true})
	if !errors.Is(err, ErrNonceMismatch) {
		t.Errorf("Expected ErrNonceMismatch, got %v", err)
	}
}

func TestU_Client_ImprintNotEchoed(t *testing.T) {
	tsa := newTestTSA(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Issue a token over a different digest than the one requested.
		other := sha256.Sum256([]byte("something else"))
		req, _ := NewRequest(other[:], SHA256, RequestOptions{CertReq: true})
		reqDER, _ := req.Marshal()
		responder := &Responder{Config: tsa.config}
		respDER, _ := responder.Respond(reqDER)
		w.Header().Set("Content-Type", ContentTypeReply)
		w.Write(respDER)
	}))
	defer srv.Close()

	digest := sha256.Sum256([]byte("imprint echo"))
	_, _, err := NewClient().RequestTimestamp(context.Background(), srv.URL, SHA256, digest[:],
		RequestOptions{CertReq: true})
	if !errors.Is(err, ErrMalformedEncoding) {
		t.Errorf("Expected ErrMalformedEncoding, got %v", err)
	}
}

func TestU_Client_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", ContentTypeReply)
	}))
	defer srv.Close()

	digest := sha256.Sum256([]byte("empty"))
	_, _, err := NewClient().RequestTimestamp(context.Background(), srv.URL, SHA256, digest[:],
		RequestOptions{})
	if !errors.Is(err, ErrTransportFailure) {
		t.Errorf("Expected ErrTransportFailure, got %v", err)
	}
}
