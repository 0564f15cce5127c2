package transfer

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fortio.org/assert"
)

func TestDoHTTPSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	m := NewMulti(2, nil, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	m.Submit(Request{ClientIndex: 1, URL: srv.URL, Timeout: 5 * time.Second})

	select {
	case res := <-m.Results():
		assert.NoError(t, res.Err)
		assert.Equal(t, 1, res.ClientIndex)
		assert.Equal(t, 2, res.StatusClass)
		assert.True(t, res.BytesIn >= 5) // body plus response header accounting
		assert.False(t, res.Is401407)
		assert.Equal(t, srv.URL, res.EffectiveURL)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestDoHTTPEffectiveURLFollowsRedirect(t *testing.T) {
	var final string
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, final, http.StatusFound)
	})
	mux.HandleFunc("/end", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	final = srv.URL + "/end"

	m := NewMulti(1, nil, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	m.Submit(Request{ClientIndex: 9, URL: srv.URL + "/start"})

	res := <-m.Results()
	assert.NoError(t, res.Err)
	assert.Equal(t, final, res.EffectiveURL)
}

func TestDoHTTP401NotErrClass(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := NewMulti(1, nil, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	m.Submit(Request{ClientIndex: 3, URL: srv.URL})

	res := <-m.Results()
	assert.NoError(t, res.Err)
	assert.Equal(t, 4, res.StatusClass)
	assert.True(t, res.Is401407)
}

func TestDoHTTPBindsSourceIP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	m := NewMulti(1, nil, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	m.Submit(Request{ClientIndex: 4, URL: srv.URL, SourceIP: net.ParseIP("127.0.0.1")})

	res := <-m.Results()
	assert.NoError(t, res.Err)
}

func TestDoHTTPServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := NewMulti(1, nil, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	m.Submit(Request{ClientIndex: 2, URL: srv.URL})

	res := <-m.Results()
	assert.NoError(t, res.Err)
	assert.Equal(t, 5, res.StatusClass)
}

func TestSchemeDetection(t *testing.T) {
	assert.Equal(t, "http", scheme("http://x/y"))
	assert.Equal(t, "https", scheme("https://x/y"))
	assert.Equal(t, "ftp", scheme("ftp://x/y"))
	assert.Equal(t, "http", scheme("x/y"))
}
