package models

import "time"

// GitInfo is the source-control provenance recorded with each deployment
type GitInfo struct {
    Commit     string    `json:"commit"`
    Branch     string    `json:"branch,omitempty"`
    Author     string    `json:"author,omitempty"`
    Message    string    `json:"message,omitempty"`
    CommitDate time.Time `json:"commit_date,omitempty"`
    Dirty      bool      `json:"dirty,omitempty"`
}

// ShortCommit returns the abbreviated commit hash
func (g *GitInfo) ShortCommit() string {
    if g == nil {
        return ""
    }
    if len(g.Commit) > 8 {
        return g.Commit[:8]
    }
    return g.Commit
}
