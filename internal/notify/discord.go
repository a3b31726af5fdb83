package notify

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Discord posts milestones to a channel. Messages go over the REST API;
// no gateway connection is opened.
type Discord struct {
	session   *discordgo.Session
	channelID string
	logger    *zap.Logger
}

func NewDiscord(token, channelID string, logger *zap.Logger) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discord{session: session, channelID: channelID, logger: logger}, nil
}

func (d *Discord) send(text string) {
	if _, err := d.session.ChannelMessageSend(d.channelID, text); err != nil {
		d.logger.Warn("discord send failed", zap.Error(err))
	}
}

func (d *Discord) GroupDone(group string, processed, skipped int) {
	d.send(fmt.Sprintf("Group %s finished: %d processed, %d skipped.", group, processed, skipped))
}

func (d *Discord) RunAborted(group, siren, reason string) {
	d.send(fmt.Sprintf("Run aborted in group %s at %s: %s", group, siren, reason))
}

func (d *Discord) BatchDone(groups int) {
	d.send(fmt.Sprintf("Batch finished: %d group(s) processed.", groups))
}
