package moderation

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoOpAlwaysAllows(t *testing.T) {
	v, err := (NoOp{}).Classify(context.Background(), "anything at all")
	require.NoError(t, err)
	assert.True(t, v.Allow)
}

func TestOpenAIModerationClassifierAllowsUnflagged(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[{"flagged":false,"categories":{}}]}`)
	}))
	defer ts.Close()

	c := &OpenAIModerationClassifier{Endpoint: ts.URL, Client: ts.Client(), APIKey: "k"}
	v, err := c.Classify(context.Background(), "what is the ninth planet")
	require.NoError(t, err)
	assert.True(t, v.Allow)
}

func TestOpenAIModerationClassifierBlocksFlagged(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[{"flagged":true,"categories":{"harassment":true}}]}`)
	}))
	defer ts.Close()

	c := &OpenAIModerationClassifier{Endpoint: ts.URL, Client: ts.Client(), APIKey: "k"}
	v, err := c.Classify(context.Background(), "hostile text")
	require.NoError(t, err)
	assert.False(t, v.Allow)
	assert.Equal(t, "harassment", v.Reason)
}
