// Package filesender is a client engine for the FileSender REST protocol.
//
// It moves large files to and from a FileSender server in fixed-size chunks
// with bounded concurrency: a configurable number of files transfer at once,
// and a configurable number of chunk requests are in flight across all of
// them. Each file's chunks move in strict offset order. Transient server and
// network failures are retried with exponential backoff; authentication
// rejections and protocol violations fail fast.
//
// A Client is bound to one server and one credential:
//
//	client, err := filesender.New(
//	    filesender.WithBaseURL("https://filesender.example.org"),
//	    filesender.WithUserAuth("alice", apiKey),
//	)
//	if err != nil {
//	    return err
//	}
//
//	result, err := client.Upload(ctx, []string{"report.pdf", "data/"}, fstypes.UploadOptions{
//	    Recipients: []string{"bob@example.org"},
//	})
//
// Uploads register a transfer, push every file's chunks, and mark the
// transfer complete. Downloads resolve a recipient token to its file list
// and assemble each file under an output directory:
//
//	result, err = client.Download(ctx, token, "inbox/")
//
// Results carry a per-file breakdown (state, bytes moved, failure cause), so
// a partially failed transfer is inspectable rather than opaque.
package filesender
