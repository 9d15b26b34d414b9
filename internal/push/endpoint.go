package push

// Endpoint is one registered device destination of a recipient.
type Endpoint struct {
	URL           string
	RecipientID   string
	AuthSecret    string
	EncryptionKey string
}

// maskEndpoint hides most of an endpoint URL for logging.
func maskEndpoint(url string) string {
	if len(url) > 40 {
		return url[:20] + "..." + url[len(url)-10:]
	}
	return url
}
