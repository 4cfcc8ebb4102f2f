package entity

// Build is the last successful build of a job as reported by Jenkins.
type Build struct {
	Number    int        `json:"number"`
	URL       string     `json:"url"`
	Artifacts []Artifact `json:"artifacts"`
}

// Artifact is a single file archived by a build, addressed by its path
// relative to the build's artifact root.
type Artifact struct {
	RelativePath string `json:"relativePath"`
}
