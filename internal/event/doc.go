/*
Package event carries change notifications from the chat controller to its
observers.

# Event Types

Chat events:
  - chat.created: a session was created
  - chat.selected: the active session changed
  - chat.deleted: a session was removed
  - chat.cleared: every session was removed
  - chat.status: a session's pipeline changed state
  - chat.error: the last error was set or dismissed
  - chat.persisted: a write-through save failed

Message events:
  - message.appended: a message was added to a session
  - message.edited: a message's text was changed
  - message.removed: a message was removed by regenerate

# Usage

	bus := event.NewBus()
	defer bus.Close()

	unsubscribe := bus.Subscribe(event.MessageAppended, func(e event.Event) {
		data := e.Data.(event.MessageData)
		log.Info().Str("sessionID", data.SessionID).Msg("message appended")
	})
	defer unsubscribe()

	bus.PublishSync(event.Event{Type: event.ChatCreated, Data: event.SessionData{Info: s}})

Stream consumers read JSON-encoded events from the watermill topic:

	messages, err := bus.Stream(ctx)
	for msg := range messages {
		write(msg.Payload)
	}

Each stream buffers up to StreamBuffer events. A consumer that falls further
behind has its channel closed and must subscribe again.

PublishSync runs subscribers in the publisher's goroutine. Subscribers must
return quickly, must not publish, and must not take locks the publisher may
hold. Use a non-blocking channel send when handing events to another goroutine.
*/
package event
