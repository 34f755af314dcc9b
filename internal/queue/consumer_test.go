package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	users []string
}

func (r *recordingNotifier) RefreshWidget(userID string) error {
	r.users = append(r.users, userID)
	return nil
}

func TestHandleMessage(t *testing.T) {
	n := &recordingNotifier{}
	body, err := json.Marshal(SyncPushedEvent{UserID: "u-1", Boards: 2})
	require.NoError(t, err)
	require.NoError(t, handleMessage(body, n))
	assert.Equal(t, []string{"u-1"}, n.users)
}

func TestHandleMessage_Rejects(t *testing.T) {
	n := &recordingNotifier{}
	assert.Error(t, handleMessage([]byte("not json"), n))
	assert.Error(t, handleMessage([]byte(`{"boards":1}`), n)) // missing user_id
	assert.Empty(t, n.users)
}
