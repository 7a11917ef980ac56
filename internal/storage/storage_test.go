package storage

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractObjectKey(t *testing.T) {
	s := &Storage{bucket: "zapdesk-media"}

	key, err := s.ExtractObjectKey("https://media.example.com/zapdesk-media/org-1/uploads/file.png")
	require.NoError(t, err)
	assert.Equal(t, "org-1/uploads/file.png", key)
}

func TestOwnedBy(t *testing.T) {
	orgID := uuid.New()
	other := uuid.New()

	assert.True(t, OwnedBy(orgID.String()+"/uploads/file.png", orgID))
	assert.False(t, OwnedBy(other.String()+"/uploads/file.png", orgID))
	assert.False(t, OwnedBy("uploads/file.png", orgID))
}

func TestChatMediaPath(t *testing.T) {
	chatID := uuid.New()

	p := ChatMediaPath(chatID, "3EB0F84C", "image/png")
	assert.True(t, strings.HasPrefix(p, "chats/"+chatID.String()+"/3EB0F84C."))
	assert.False(t, strings.HasSuffix(p, ".bin"))

	p = ChatMediaPath(chatID, "3EB0F84C", "application/x-unknown-blob")
	assert.True(t, strings.HasSuffix(p, "3EB0F84C.bin"))
}

func TestCampaignMediaPath(t *testing.T) {
	p := CampaignMediaPath(".mp4")
	assert.True(t, strings.HasPrefix(p, "campaigns/"))
	assert.True(t, strings.HasSuffix(p, ".mp4"))
}

func TestUploadPath(t *testing.T) {
	p := UploadPath(".pdf")
	assert.True(t, strings.HasPrefix(p, "uploads/"))
	assert.True(t, strings.HasSuffix(p, ".pdf"))
}
