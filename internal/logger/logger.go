package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func GuildID(guildID string) zapcore.Field {
	return zap.String("guild_id", guildID)
}

func ChannelID(channelID string) zapcore.Field {
	return zap.String("channel_id", channelID)
}

func UserID(userID string) zapcore.Field {
	return zap.String("user_id", userID)
}

func MessageID(messageID string) zapcore.Field {
	return zap.String("message_id", messageID)
}

func Rule(name string) zapcore.Field {
	return zap.String("rule", name)
}
