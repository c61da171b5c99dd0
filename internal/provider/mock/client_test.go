package mock_test

import (
	"context"
	"errors"
	"testing"

	"github.com/kiranshivaraju/meshgen/internal/provider"
	"github.com/kiranshivaraju/meshgen/internal/provider/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMockClient_Defaults(t *testing.T) {
	c := mock.NewMockClient()

	st, err := c.GetStatus(context.Background(), "ext-1")
	require.NoError(t, err)
	assert.Equal(t, "processing", st.Status)

	id, err := c.CreateTask(context.Background(), []string{"https://cdn/a.jpg"}, "")
	require.NoError(t, err)
	assert.Equal(t, "ext-mock-1", id)

	assert.Equal(t, 1, c.StatusCalls())
	assert.Equal(t, 1, c.CreateCalls())
}

func TestNewStaticClient(t *testing.T) {
	c := mock.NewStaticClient(map[string]provider.Status{
		"ext-1": {ExternalJobID: "ext-1", Status: "queued"},
	})

	st, err := c.GetStatus(context.Background(), "ext-1")
	require.NoError(t, err)
	assert.Equal(t, "queued", st.Status)

	c.Set("ext-1", provider.Status{ExternalJobID: "ext-1", Status: "succeeded"})
	st, err = c.GetStatus(context.Background(), "ext-1")
	require.NoError(t, err)
	assert.Equal(t, "succeeded", st.Status)

	_, err = c.GetStatus(context.Background(), "ext-missing")
	assert.ErrorIs(t, err, provider.ErrTaskNotFound)
	assert.Equal(t, 3, c.StatusCalls())
}

func TestNewFailingClient(t *testing.T) {
	boom := errors.New("provider down")
	c := mock.NewFailingClient(boom)

	_, err := c.GetStatus(context.Background(), "ext-1")
	assert.ErrorIs(t, err, boom)

	_, err = c.CreateTask(context.Background(), nil, "")
	assert.ErrorIs(t, err, boom)
}
