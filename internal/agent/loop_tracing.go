package agent

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/replygate/internal/bus"
)

const tracerName = "github.com/nextlevelbuilder/replygate/internal/agent"

func (l *Loop) startHandleSpan(ctx context.Context, msg bus.InboundMessage) (context.Context, trace.Span) {
	return l.tracer.Start(ctx, "agent.handle",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("replygate.agent_id", l.agentID),
			attribute.String("replygate.channel", msg.Channel),
			attribute.String("replygate.chat_id", msg.ChatID),
			attribute.String("replygate.message_id", msg.MessageID),
			attribute.Bool("replygate.private", msg.IsPrivate()),
		),
	)
}

// endSpan stamps the decision outcome. It does not end the span.
func endSpan(span trace.Span, outcome string, err error) {
	span.SetAttributes(attribute.String("replygate.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
