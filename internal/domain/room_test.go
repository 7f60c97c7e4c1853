package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddVideo_StartsPlayingWhenEmpty(t *testing.T) {
	r := NewRoom("123456", "creator")

	err := r.AddVideo(Video{ID: "v1"})
	require.NoError(t, err)

	require.NotNil(t, r.PlayingNow)
	assert.Equal(t, "v1", r.PlayingNow.ID)
	assert.True(t, r.IsPlaying)
	assert.Empty(t, r.VideoQueue)
}

func TestAddVideo_QueuesWhenSomethingPlaying(t *testing.T) {
	r := NewRoom("123456", "creator")
	require.NoError(t, r.AddVideo(Video{ID: "v1"}))

	err := r.AddVideo(Video{ID: "v2"})
	require.NoError(t, err)

	assert.Equal(t, "v1", r.PlayingNow.ID)
	require.Len(t, r.VideoQueue, 1)
	assert.Equal(t, "v2", r.VideoQueue[0].ID)
}

func TestAddVideo_RejectsDuplicate(t *testing.T) {
	r := NewRoom("123456", "creator")
	require.NoError(t, r.AddVideo(Video{ID: "v1"}))
	require.NoError(t, r.AddVideo(Video{ID: "v2"}))

	err := r.AddVideo(Video{ID: "v2"})
	assert.ErrorIs(t, err, ErrVideoAlreadyInQueue)
}

func TestAddVideoAndMoveToTop_MovesExistingEntry(t *testing.T) {
	r := NewRoom("123456", "creator")
	require.NoError(t, r.AddVideo(Video{ID: "v1"}))
	require.NoError(t, r.AddVideo(Video{ID: "v2"}))
	require.NoError(t, r.AddVideo(Video{ID: "v3"}))

	r.AddVideoAndMoveToTop(Video{ID: "v3"})

	require.Len(t, r.VideoQueue, 2)
	assert.Equal(t, "v3", r.VideoQueue[0].ID)
	assert.Equal(t, "v2", r.VideoQueue[1].ID)
}

func TestMoveToTop_NotFound(t *testing.T) {
	r := NewRoom("123456", "creator")
	err := r.MoveToTop("missing")
	assert.ErrorIs(t, err, ErrVideoNotFound)
}

func TestSetVolume_ClampsToRange(t *testing.T) {
	r := NewRoom("123456", "creator")

	r.SetVolume(-10)
	assert.Equal(t, 0, r.Volume)

	r.SetVolume(250)
	assert.Equal(t, 100, r.Volume)

	r.SetVolume(42)
	assert.Equal(t, 42, r.Volume)
}

func TestAddClient_UpdatesInPlaceOnRejoin(t *testing.T) {
	r := NewRoom("123456", "creator")
	r.AddClient(ClientProfile{ID: "c1", DisplayName: "Alice"})
	r.AddClient(ClientProfile{ID: "c1", DisplayName: "Alice2"})

	require.Len(t, r.Clients, 1)
	assert.Equal(t, "Alice2", r.Clients[0].DisplayName)
}

func TestRemoveClient(t *testing.T) {
	r := NewRoom("123456", "creator")
	r.AddClient(ClientProfile{ID: "c1"})
	r.AddClient(ClientProfile{ID: "c2"})

	r.RemoveClient("c1")

	assert.False(t, r.HasClient("c1"))
	assert.True(t, r.HasClient("c2"))
}

func TestUpdateProfile_NoopWhenAbsent(t *testing.T) {
	r := NewRoom("123456", "creator")
	r.UpdateProfile("ghost", "name", "color")
	assert.Empty(t, r.Clients)
}

func TestUpdateProfile_OnlySetsNonEmptyFields(t *testing.T) {
	r := NewRoom("123456", "creator")
	r.AddClient(ClientProfile{ID: "c1", DisplayName: "Alice", Color: "red"})

	r.UpdateProfile("c1", "", "blue")

	assert.Equal(t, "Alice", r.Clients[0].DisplayName)
	assert.Equal(t, "blue", r.Clients[0].Color)
}

func TestPushHistory_DedupesKeepingMostRecentFirst(t *testing.T) {
	r := NewRoom("123456", "creator")
	r.pushHistory(Video{ID: "v1"})
	r.pushHistory(Video{ID: "v2"})
	r.pushHistory(Video{ID: "v1"})

	require.Len(t, r.HistoryQueue, 2)
	assert.Equal(t, "v1", r.HistoryQueue[0].ID)
	assert.Equal(t, "v2", r.HistoryQueue[1].ID)
}

func TestNextVideo_AdvancesQueueAndArchives(t *testing.T) {
	r := NewRoom("123456", "creator")
	require.NoError(t, r.AddVideo(Video{ID: "v1"}))
	require.NoError(t, r.AddVideo(Video{ID: "v2"}))

	r.NextVideo()

	assert.Equal(t, "v2", r.PlayingNow.ID)
	assert.Empty(t, r.VideoQueue)
	require.Len(t, r.HistoryQueue, 1)
	assert.Equal(t, "v1", r.HistoryQueue[0].ID)
}

func TestNextVideo_ClearsPlayingNowWhenQueueEmpty(t *testing.T) {
	r := NewRoom("123456", "creator")
	require.NoError(t, r.AddVideo(Video{ID: "v1"}))

	r.NextVideo()

	assert.Nil(t, r.PlayingNow)
	assert.False(t, r.IsPlaying)
}

func TestPlayNow_ArchivesCurrentAndStartsRequested(t *testing.T) {
	r := NewRoom("123456", "creator")
	require.NoError(t, r.AddVideo(Video{ID: "v1"}))
	require.NoError(t, r.AddVideo(Video{ID: "v2"}))

	r.PlayNow(Video{ID: "v2"})

	assert.Equal(t, "v2", r.PlayingNow.ID)
	assert.Empty(t, r.VideoQueue)
	require.Len(t, r.HistoryQueue, 1)
	assert.Equal(t, "v1", r.HistoryQueue[0].ID)
}

func TestReplay_ErrorsWhenNothingPlaying(t *testing.T) {
	r := NewRoom("123456", "creator")
	err := r.Replay()
	assert.ErrorIs(t, err, ErrNothingPlaying)
}

func TestSeek_ClampsNegative(t *testing.T) {
	r := NewRoom("123456", "creator")
	r.Seek(-5)
	assert.Equal(t, float64(0), r.CurrentTime)
}

func TestIsEmpty(t *testing.T) {
	r := NewRoom("123456", "creator")
	assert.True(t, r.IsEmpty())

	r.AddClient(ClientProfile{ID: "c1"})
	assert.False(t, r.IsEmpty())
}

func TestWithoutClients_StripsClientsOnly(t *testing.T) {
	r := NewRoom("123456", "creator")
	r.AddClient(ClientProfile{ID: "c1"})
	r.Volume = 55

	stripped := r.WithoutClients()

	assert.Empty(t, stripped.Clients)
	assert.Equal(t, 55, stripped.Volume)
	assert.Len(t, r.Clients, 1, "original room must be unaffected")
}
