package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

const searchResponse = `{"data":{
  "search":{
    "repositoryCount":2,
    "pageInfo":{"hasNextPage":true,"endCursor":"Y3Vyc29yOjI="},
    "nodes":[
      {"id":"R_1","name":"alpha","nameWithOwner":"octo/alpha","description":"first",
       "url":"https://github.com/octo/alpha","createdAt":"2020-01-02T03:04:05Z",
       "updatedAt":"2024-01-02T03:04:05Z","pushedAt":"2024-02-02T03:04:05Z",
       "isPrivate":false,"isFork":true,"isArchived":false,"stargazerCount":42,
       "primaryLanguage":{"name":"Go"},"owner":{"login":"octo"}},
      {"id":"R_2","name":"beta","nameWithOwner":"octo/beta","description":null,
       "url":"https://github.com/octo/beta","createdAt":"2021-01-02T03:04:05Z",
       "updatedAt":null,"pushedAt":null,
       "isPrivate":false,"isFork":false,"isArchived":true,"stargazerCount":0,
       "primaryLanguage":null,"owner":{"login":"octo"}}
    ]},
  "rateLimit":{"limit":5000,"cost":1,"remaining":4999,"resetAt":"2025-01-01T01:00:00Z"}
}}`

func TestGraphQLExecute(t *testing.T) {
	var got graphqlRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(searchResponse))
	}))
	defer srv.Close()

	ex := NewGraphQL(context.Background(), WithBaseURL(srv.URL), WithToken("secret"))
	page, err := ex.Execute(context.Background(), "stars:>1000", 500, nil)
	require.NoError(t, err)

	assert.Contains(t, got.Query, "search(query: $query, type: REPOSITORY, first: $first, after: $after)")
	assert.Contains(t, got.Query, "rateLimit")
	assert.Equal(t, "stars:>1000", got.Variables["query"])
	assert.EqualValues(t, MaxPageSize, got.Variables["first"])
	assert.Nil(t, got.Variables["after"])

	require.Len(t, page.Nodes, 2)
	assert.True(t, page.HasNextPage)
	require.NotNil(t, page.EndCursor)
	assert.Equal(t, "Y3Vyc29yOjI=", *page.EndCursor)

	a := page.Nodes[0]
	assert.Equal(t, "R_1", a.ID)
	assert.Equal(t, "octo", a.OwnerLogin)
	assert.Equal(t, "octo/alpha", a.NameWithOwner)
	require.NotNil(t, a.PrimaryLanguage)
	assert.Equal(t, "Go", *a.PrimaryLanguage)
	require.NotNil(t, a.CreatedAt)
	assert.Equal(t, time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC), *a.CreatedAt)
	assert.True(t, a.IsFork)
	assert.Equal(t, 42, a.StargazerCount)

	b := page.Nodes[1]
	assert.Nil(t, b.Description)
	assert.Nil(t, b.PrimaryLanguage)
	assert.Nil(t, b.PushedAt)
	assert.True(t, b.IsArchived)

	require.NotNil(t, page.RateLimit)
	assert.Equal(t, 4999, page.RateLimit.Remaining)
	assert.Equal(t, 1, page.RateLimit.Cost)
}

func TestGraphQLExecutePassesCursor(t *testing.T) {
	var got graphqlRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"data":{"search":{"repositoryCount":0,"pageInfo":{"hasNextPage":false,"endCursor":null},"nodes":[]},"rateLimit":{"limit":5000,"cost":1,"remaining":10,"resetAt":"2025-01-01T01:00:00Z"}}}`))
	}))
	defer srv.Close()

	cursor := "abc"
	page, err := NewGraphQL(context.Background(), WithBaseURL(srv.URL)).
		Execute(context.Background(), "language:go", 10, &cursor)
	require.NoError(t, err)
	assert.Equal(t, "abc", got.Variables["after"])
	assert.EqualValues(t, 10, got.Variables["first"])
	assert.Empty(t, page.Nodes)
	assert.False(t, page.HasNextPage)
	assert.Nil(t, page.EndCursor)
}

func TestGraphQLExecuteRateLimited(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "forbidden status",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("X-RateLimit-Reset", "1735693200")
				http.Error(w, "secondary rate limit", http.StatusForbidden)
			},
		},
		{
			name: "too many requests",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Retry-After", "30")
				w.WriteHeader(http.StatusTooManyRequests)
			},
		},
		{
			name: "graphql error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"data":null,"errors":[{"type":"RATE_LIMITED","message":"API rate limit exceeded for user ID 1."}]}`))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			_, err := NewGraphQL(context.Background(), WithBaseURL(srv.URL)).
				Execute(context.Background(), "stars:>1", 10, nil)
			require.Error(t, err)
			assert.True(t, IsRateLimited(err), "got %v", err)
		})
	}
}

func TestGraphQLExecuteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":null,"errors":[{"message":"Something went wrong while executing your query."}]}`))
	}))
	defer srv.Close()
	_, err := NewGraphQL(context.Background(), WithBaseURL(srv.URL)).
		Execute(context.Background(), "stars:>1", 10, nil)
	require.Error(t, err)
	assert.False(t, IsRateLimited(err))
}

func TestExecuteRejectsNonPositivePageSize(t *testing.T) {
	_, err := NewGraphQL(context.Background()).Execute(context.Background(), "stars:>1", 0, nil)
	require.Error(t, err)
}

func TestResetFromHeader(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	h := http.Header{}
	assert.True(t, resetFromHeader(h, now).IsZero())
	h.Set("Retry-After", "60")
	assert.Equal(t, now.Add(time.Minute), resetFromHeader(h, now))
	h.Set("X-RateLimit-Reset", "1735693200")
	assert.Equal(t, time.Unix(1735693200, 0).UTC(), resetFromHeader(h, now))
}
