package reranker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scholarerrors "github.com/pdiddy/scholarqa-engine/internal/errors"
)

func TestScoreAlignsResultsAcrossBatches(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req scoreRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		scores := make([]float64, len(req.Passages))
		for i, p := range req.Passages {
			scores[i] = float64(len(p)) / 10.0
		}
		json.NewEncoder(w).Encode(scoreResponse{Scores: scores})
	}))
	defer ts.Close()

	s := &HTTPScorer{Endpoint: ts.URL, Client: ts.Client(), BatchSize: 2, MaxInflight: 2}
	out, err := s.Score(context.Background(), "q", []string{"aa", "bbbb", "cc", "dddddddd", "e"})
	require.NoError(t, err)
	require.Len(t, out, 5)
	assert.Equal(t, 0.2, out[0])
	assert.Equal(t, 0.4, out[1])
	assert.Equal(t, 0.2, out[2])
	assert.Equal(t, 0.8, out[3])
	assert.Equal(t, 0.1, out[4])
}

func TestScoreRespectsMaxInflight(t *testing.T) {
	var inflight, maxSeen int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := atomic.AddInt32(&inflight, 1)
		defer atomic.AddInt32(&inflight, -1)
		for {
			seen := atomic.LoadInt32(&maxSeen)
			if cur <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, cur) {
				break
			}
		}
		var req scoreRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(scoreResponse{Scores: make([]float64, len(req.Passages))})
	}))
	defer ts.Close()

	s := &HTTPScorer{Endpoint: ts.URL, Client: ts.Client(), BatchSize: 1, MaxInflight: 2}
	passages := make([]string, 8)
	for i := range passages {
		passages[i] = fmt.Sprintf("p%d", i)
	}
	_, err := s.Score(context.Background(), "q", passages)
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&maxSeen), int32(2))
}

func TestScoreUpstream5xxClassified(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	s := &HTTPScorer{Endpoint: ts.URL, Client: ts.Client()}
	_, err := s.Score(context.Background(), "q", []string{"x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, scholarerrors.ErrUpstream5xx)
}

func TestScoreMismatchedLengthIsMalformed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(scoreResponse{Scores: []float64{0.5}})
	}))
	defer ts.Close()

	s := &HTTPScorer{Endpoint: ts.URL, Client: ts.Client()}
	_, err := s.Score(context.Background(), "q", []string{"x", "y"})
	require.Error(t, err)
	assert.ErrorIs(t, err, scholarerrors.ErrMalformedResponse)
}
