// Package conversation stores threads, participants and messages, and loads
// the context an inbound message is answered from.
//
// Replay safety relies on two partial unique indexes the schema must carry:
//
//	CREATE UNIQUE INDEX conversation_messages_auto_reply_uniq
//	    ON conversation_messages (thread_id, (metadata->>'autoReplyToMessageId'))
//	    WHERE direction = 'outbound';
//
//	CREATE UNIQUE INDEX conversation_participants_system_uniq
//	    ON conversation_participants (thread_id)
//	    WHERE kind = 'system' AND left_at IS NULL;
//
// A violation of the first surfaces from InsertMessage as
// ErrDuplicateAutoReply. Unsent confirmation notes carry the same key, so
// they also mark an inbound message as handled.
package conversation
