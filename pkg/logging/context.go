package logging

import (
	"context"
)

const (
	MessageIDKey = "message_id"
	LinkKey      = "link"
	ComponentKey = "component"
)

func WithMessageID(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, MessageIDKey, messageID)
}

func WithLink(ctx context.Context, link string) context.Context {
	return context.WithValue(ctx, LinkKey, link)
}

func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, ComponentKey, component)
}

func GetMessageID(ctx context.Context) string {
	if messageID, ok := ctx.Value(MessageIDKey).(string); ok {
		return messageID
	}
	return ""
}

func GetLink(ctx context.Context) string {
	if link, ok := ctx.Value(LinkKey).(string); ok {
		return link
	}
	return ""
}

func GetComponent(ctx context.Context) string {
	if component, ok := ctx.Value(ComponentKey).(string); ok {
		return component
	}
	return ""
}

func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 6)

	if messageID := GetMessageID(ctx); messageID != "" {
		fields = append(fields, "message_id", messageID)
	}

	if link := GetLink(ctx); link != "" {
		fields = append(fields, "link", link)
	}

	if component := GetComponent(ctx); component != "" {
		fields = append(fields, "component", component)
	}

	return fields
}
