package upload

// Notifier receives the user-facing side effects of an upload session.
// Implementations typically copy the share link to the clipboard or emit UI
// events; this library only defines when they happen.
type Notifier interface {
	// OnUploadComplete is called once the remote object is finalized.
	OnUploadComplete(link string)

	// OnAuthInvalidated is called when the remote service rejected the
	// access token, so the embedding app can prompt for a new login.
	OnAuthInvalidated()
}

type noopNotifier struct{}

func (noopNotifier) OnUploadComplete(string) {}
func (noopNotifier) OnAuthInvalidated()      {}
