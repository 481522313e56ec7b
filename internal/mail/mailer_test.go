package mail

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildMessage(t *testing.T) {
	msg := string(buildMessage("noreply@pingup.app", "bob@example.com", "You have 3 unseen messages", "<p>hi</p>"))

	assert.Contains(t, msg, "From: noreply@pingup.app\r\n")
	assert.Contains(t, msg, "To: bob@example.com\r\n")
	assert.Contains(t, msg, "Subject: You have 3 unseen messages\r\n")
	assert.Contains(t, msg, "Content-Type: text/html")
	assert.Contains(t, msg, "\r\n\r\n<p>hi</p>\r\n")
}
