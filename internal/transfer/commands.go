package transfer

// Commands groups the command hooks a target may configure around file
// operations. Only backends with a raw command primitive (FTP, SFTP)
// execute them; other backends ignore the block.
type Commands struct {
	// Connected runs once right after a connection is established.
	Connected []CommandEntry `json:"connected"`
	// BeforeUpload / Uploaded run around each upload.
	BeforeUpload []CommandEntry `json:"before_upload"`
	Uploaded     []CommandEntry `json:"uploaded"`
	// BeforeDownload / Downloaded run around each download.
	BeforeDownload []CommandEntry `json:"before_download"`
	Downloaded     []CommandEntry `json:"downloaded"`
	// BeforeDelete / Deleted run around each delete.
	BeforeDelete []CommandEntry `json:"before_delete"`
	Deleted      []CommandEntry `json:"deleted"`
	// Encoding is the default output encoding for entries that do not
	// set their own.
	Encoding string `json:"encoding"`
}

// WithDefaults returns a copy with the block-level encoding applied to
// every entry that has none.
func (c Commands) WithDefaults() Commands {
	if c.Encoding == "" {
		return c
	}
	apply := func(entries []CommandEntry) []CommandEntry {
		out := make([]CommandEntry, len(entries))
		for i, e := range entries {
			if e.Encoding == "" {
				e.Encoding = c.Encoding
			}
			out[i] = e
		}
		return out
	}
	c.Connected = apply(c.Connected)
	c.BeforeUpload = apply(c.BeforeUpload)
	c.Uploaded = apply(c.Uploaded)
	c.BeforeDownload = apply(c.BeforeDownload)
	c.Downloaded = apply(c.Downloaded)
	c.BeforeDelete = apply(c.BeforeDelete)
	c.Deleted = apply(c.Deleted)
	return c
}
