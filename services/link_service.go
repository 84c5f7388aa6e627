package services

import (
	"time"
)

// LivenessWindow is how recent the peer's last heartbeat must be for the
// link to count as alive.
const LivenessWindow = 2 * time.Second

// LinkServiceImpl implements LinkService
type LinkServiceImpl struct {
	cores []StatsSource
}

// NewLinkService creates a new link service
func NewLinkService(cores ...StatsSource) LinkService {
	return &LinkServiceImpl{
		cores: cores,
	}
}

// ListLinks returns information on every local core
func (ls *LinkServiceImpl) ListLinks() ([]LinkInfo, error) {
	result := make([]LinkInfo, 0, len(ls.cores))
	for _, c := range ls.cores {
		result = append(result, linkInfo(c))
	}
	return result, nil
}

// GetLink returns the core with the given role
func (ls *LinkServiceImpl) GetLink(role string) (*LinkInfo, error) {
	for _, c := range ls.cores {
		info := linkInfo(c)
		if info.Role == role {
			return &info, nil
		}
	}
	return nil, ServiceError{
		Code:    ErrCodeNotFound,
		Message: "Link not found: " + role,
	}
}

func linkInfo(c StatsSource) LinkInfo {
	stats := c.Stats()
	peer := stats.Pipe.Peer
	return LinkInfo{
		Role:  stats.Role,
		Alive: peer.Seen && time.Since(peer.At) <= LivenessWindow,
		Stats: stats,
	}
}
