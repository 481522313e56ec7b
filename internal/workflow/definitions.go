package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/pingup-app/eventd/internal/model"
)

// Directory is the narrow view of the social database that workflow steps
// read and write. Implemented by internal/directory over Postgres.
type Directory interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	UsernameTaken(ctx context.Context, username string) (bool, error)
	UpsertUser(ctx context.Context, u *model.User) error
	UpdateUser(ctx context.Context, u *model.User) error
	DeleteUser(ctx context.Context, id string) error
	GetConnection(ctx context.Context, id string) (*model.Connection, error)
	DeleteStory(ctx context.Context, id string) error
	UnseenMessageCounts(ctx context.Context) (map[string]int, error)
}

// Mailer sends an HTML email. Implemented by internal/mail over SMTP.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// Deps are the external collaborators injected into the product workflows.
type Deps struct {
	Directory   Directory
	Mailer      Mailer
	FrontendURL string
}

// Definitions returns every workflow this service registers at startup:
// the auth-provider user sync trio, the connection-request reminder, the
// 24h story expiry, and the daily unseen-messages digest.
func Definitions(deps Deps, digestCron string) []Definition {
	return []Definition{
		syncUserCreation(deps),
		syncUserUpdate(deps),
		syncUserDeletion(deps),
		connectionRequestReminder(deps),
		storyDelete(deps),
		unseenMessagesDigest(deps, digestCron),
	}
}

// userPayload is the auth-provider user lifecycle event shape.
type userPayload struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	ImageURL  string `json:"image_url"`
}

func syncUserCreation(deps Deps) Definition {
	return Definition{
		Name:    "sync-user-creation",
		Trigger: Trigger{Event: model.EventUserCreated},
		Steps: []Step{
			Work("save-user", func(ctx context.Context, payload json.RawMessage, _ model.StepResults) (json.RawMessage, error) {
				var p userPayload
				if err := json.Unmarshal(payload, &p); err != nil {
					return nil, Permanent(fmt.Errorf("decode user payload: %w", err))
				}

				// Username defaults to the email local part, uniquified
				// on collision.
				username := p.Email
				if at := strings.IndexByte(username, '@'); at != -1 {
					username = username[:at]
				}
				taken, err := deps.Directory.UsernameTaken(ctx, username)
				if err != nil {
					return nil, fmt.Errorf("check username: %w", err)
				}
				if taken {
					username = fmt.Sprintf("%s%d", username, rand.IntN(10000))
				}

				u := &model.User{
					ID:             p.ID,
					Email:          p.Email,
					FullName:       strings.TrimSpace(p.FirstName + " " + p.LastName),
					Username:       username,
					ProfilePicture: p.ImageURL,
				}
				if err := deps.Directory.UpsertUser(ctx, u); err != nil {
					return nil, fmt.Errorf("save user %s: %w", p.ID, err)
				}
				return Result(map[string]string{"username": username}), nil
			}),
		},
	}
}

func syncUserUpdate(deps Deps) Definition {
	return Definition{
		Name:    "sync-user-update",
		Trigger: Trigger{Event: model.EventUserUpdated},
		Steps: []Step{
			Work("update-user", func(ctx context.Context, payload json.RawMessage, _ model.StepResults) (json.RawMessage, error) {
				var p userPayload
				if err := json.Unmarshal(payload, &p); err != nil {
					return nil, Permanent(fmt.Errorf("decode user payload: %w", err))
				}
				u := &model.User{
					ID:             p.ID,
					Email:          p.Email,
					FullName:       strings.TrimSpace(p.FirstName + " " + p.LastName),
					ProfilePicture: p.ImageURL,
				}
				if err := deps.Directory.UpdateUser(ctx, u); err != nil {
					return nil, fmt.Errorf("update user %s: %w", p.ID, err)
				}
				return Result(map[string]string{"updated": p.ID}), nil
			}),
		},
	}
}

func syncUserDeletion(deps Deps) Definition {
	return Definition{
		Name:    "sync-user-deletion",
		Trigger: Trigger{Event: model.EventUserDeleted},
		Steps: []Step{
			Work("delete-user", func(ctx context.Context, payload json.RawMessage, _ model.StepResults) (json.RawMessage, error) {
				var p struct {
					ID string `json:"id"`
				}
				if err := json.Unmarshal(payload, &p); err != nil {
					return nil, Permanent(fmt.Errorf("decode user payload: %w", err))
				}
				if err := deps.Directory.DeleteUser(ctx, p.ID); err != nil {
					return nil, fmt.Errorf("delete user %s: %w", p.ID, err)
				}
				return Result(map[string]string{"deleted": p.ID}), nil
			}),
		},
	}
}

func connectionRequestReminder(deps Deps) Definition {
	sendRequestEmail := func(ctx context.Context, connectionID string) error {
		conn, err := deps.Directory.GetConnection(ctx, connectionID)
		if err != nil {
			return fmt.Errorf("get connection %s: %w", connectionID, err)
		}
		to, err := deps.Directory.GetUser(ctx, conn.ToUserID)
		if err != nil {
			return fmt.Errorf("get recipient %s: %w", conn.ToUserID, err)
		}
		from, err := deps.Directory.GetUser(ctx, conn.FromUserID)
		if err != nil {
			return fmt.Errorf("get sender %s: %w", conn.FromUserID, err)
		}

		subject := "New Connection Request Received!"
		body := connectionEmailBody(to.FullName, from.FullName, deps.FrontendURL)
		if err := deps.Mailer.Send(ctx, to.Email, subject, body); err != nil {
			return fmt.Errorf("send connection email: %w", err)
		}
		return nil
	}

	return Definition{
		Name:    "connection-request-reminder",
		Trigger: Trigger{Event: model.EventConnectionRequested},
		Steps: []Step{
			Work("send-connection-email", func(ctx context.Context, payload json.RawMessage, _ model.StepResults) (json.RawMessage, error) {
				id, err := connectionID(payload)
				if err != nil {
					return nil, err
				}
				if err := sendRequestEmail(ctx, id); err != nil {
					return nil, err
				}
				return Result(map[string]string{"message": "Connection request email sent."}), nil
			}),
			SleepUntil("wait-for-24-hours", 24*time.Hour),
			Work("send-connection-request-reminder", func(ctx context.Context, payload json.RawMessage, _ model.StepResults) (json.RawMessage, error) {
				id, err := connectionID(payload)
				if err != nil {
					return nil, err
				}
				conn, err := deps.Directory.GetConnection(ctx, id)
				if err != nil {
					return nil, fmt.Errorf("get connection %s: %w", id, err)
				}
				if conn.Status == model.ConnectionAccepted {
					return Result(map[string]string{"message": "Connection request already accepted, no reminder needed."}), nil
				}
				if err := sendRequestEmail(ctx, id); err != nil {
					return nil, err
				}
				return Result(map[string]string{"message": "Reminder email sent for pending connection request."}), nil
			}),
		},
	}
}

func connectionID(payload json.RawMessage) (string, error) {
	var p struct {
		ConnectionID string `json:"connection_id"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", Permanent(fmt.Errorf("decode connection payload: %w", err))
	}
	if p.ConnectionID == "" {
		return "", Permanent(fmt.Errorf("connection payload has no connection_id"))
	}
	return p.ConnectionID, nil
}

func storyDelete(deps Deps) Definition {
	return Definition{
		Name:    "story-delete",
		Trigger: Trigger{Event: model.EventStoryCreated},
		Steps: []Step{
			SleepUntil("wait-for-24-hours", 24*time.Hour),
			Work("delete-story", func(ctx context.Context, payload json.RawMessage, _ model.StepResults) (json.RawMessage, error) {
				var p struct {
					StoryID string `json:"story_id"`
				}
				if err := json.Unmarshal(payload, &p); err != nil {
					return nil, Permanent(fmt.Errorf("decode story payload: %w", err))
				}
				if p.StoryID == "" {
					return nil, Permanent(fmt.Errorf("story payload has no story_id"))
				}
				if err := deps.Directory.DeleteStory(ctx, p.StoryID); err != nil {
					return nil, fmt.Errorf("delete story %s: %w", p.StoryID, err)
				}
				return Result(map[string]string{"message": "Story deleted"}), nil
			}),
		},
	}
}

func unseenMessagesDigest(deps Deps, cronExpr string) Definition {
	return Definition{
		Name:    "unseen-messages-digest",
		Trigger: Trigger{Cron: cronExpr},
		Steps: []Step{
			Work("send-digest-emails", func(ctx context.Context, _ json.RawMessage, _ model.StepResults) (json.RawMessage, error) {
				counts, err := deps.Directory.UnseenMessageCounts(ctx)
				if err != nil {
					return nil, fmt.Errorf("count unseen messages: %w", err)
				}

				sent := 0
				for userID, count := range counts {
					user, err := deps.Directory.GetUser(ctx, userID)
					if err != nil {
						return nil, fmt.Errorf("get digest recipient %s: %w", userID, err)
					}
					subject := fmt.Sprintf("You have %d unseen messages", count)
					body := digestEmailBody(user.FullName, count, deps.FrontendURL)
					if err := deps.Mailer.Send(ctx, user.Email, subject, body); err != nil {
						return nil, fmt.Errorf("send digest to %s: %w", user.Email, err)
					}
					sent++
				}
				return Result(map[string]int{"recipients": sent}), nil
			}),
		},
	}
}

func connectionEmailBody(toName, fromName, frontendURL string) string {
	return fmt.Sprintf(`<div style="font-family: Arial, sans-serif; padding: 20px">
  <h2>Hi %s,</h2>
  <p>You have received a new connection request from <strong>%s</strong> on PingUp.</p>
  <p>Click <a href="%s/connections" style="color:#10b981;">here</a> to accept or reject the request</p>
  <br/>
  <p>Best Regards,<br/>PingUp Team</p>
</div>`, toName, fromName, frontendURL)
}

func digestEmailBody(name string, count int, frontendURL string) string {
	return fmt.Sprintf(`<div style="font-family: Arial, sans-serif; padding: 20px;">
  <h2>Hi %s,</h2>
  <p>You have %d unseen messages</p>
  <p>Click <a href="%s/messages" style="color:#10b981;">here</a> to view them</p>
  <br/>
  <p>Thanks,<br/>PingUp - Stay Connected</p>
</div>`, name, count, frontendURL)
}
