package router

import (
	"regexp"

	"github.com/google/uuid"

	"github.com/webitel/im-messaging-service/internal/domain/model"
)

// Mention syntax follows the client composer: explicit user tags are written
// as <@uuid>, broadcast tags as bare @everyone / @here at a word boundary.
var (
	userMentionRe      = regexp.MustCompile(`<@([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})>`)
	broadcastMentionRe = regexp.MustCompile(`(?:^|\s)@(everyone|here)\b`)
)

// parseMentions extracts mention markers from message content at write time.
// Duplicate user tags collapse to one marker; at most one broadcast marker is
// produced, @everyone winning over @here.
func parseMentions(content string) []model.Mention {
	var out []model.Mention

	seen := make(map[uuid.UUID]struct{})
	for _, m := range userMentionRe.FindAllStringSubmatch(content, -1) {
		id, err := uuid.Parse(m[1])
		if err != nil {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, model.Mention{Type: model.MentionUser, MentionedUserID: &id})
	}

	var everyone, here bool
	for _, m := range broadcastMentionRe.FindAllStringSubmatch(content, -1) {
		switch m[1] {
		case "everyone":
			everyone = true
		case "here":
			here = true
		}
	}
	if everyone {
		out = append(out, model.Mention{Type: model.MentionEveryone})
	} else if here {
		out = append(out, model.Mention{Type: model.MentionHere})
	}
	return out
}
