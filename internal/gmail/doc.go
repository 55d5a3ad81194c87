// Package gmail is the mailbox collaborator used by the poller and the chat
// commands.
//
// It exposes a narrow Mailbox interface (list recent ids, fetch one message,
// fetch one attachment) backed by the Gmail API, plus the parsing that turns a
// raw API message into a flat Message value with a plain text body and an
// attachment list. The importance and item-type heuristics that run over the
// parsed subject and body also live here.
//
// Example usage:
//
//	client, err := gmail.NewClient(ctx, gmail.ClientConfig{HTTPClient: httpClient})
//	if err != nil {
//	    return err
//	}
//
//	ids, err := client.ListRecent(ctx, "", 10)
//	if err != nil {
//	    return err
//	}
//
//	for _, id := range ids {
//	    msg, err := client.FetchMessage(ctx, id)
//	    if err != nil {
//	        continue
//	    }
//	    if gmail.IsImportant(msg.Subject, msg.Snippet) {
//	        // notify
//	    }
//	}
package gmail
