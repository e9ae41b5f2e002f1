package directors

import "context"

// AccessEntry is one handled request as recorded by the access log.
type AccessEntry struct {
	RemoteAddr string
	Action     string
	Database   string
	Collection string
}

// AccessLog queues entry for the log worker. When the queue is full the
// entry is dropped rather than holding up the request.
func (m *Manager) AccessLog(entry AccessEntry) {
	select {
	case m.accessLog <- entry:
	default:
		m.Logger.Debugw("Access log queue full, dropping entry", "action", entry.Action)
	}
}

func (m *Manager) runAccessLog(ctx context.Context) error {
	for {
		select {
		case entry := <-m.accessLog:
			m.writeAccess(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-m.accessLog:
					m.writeAccess(entry)
				default:
					return nil
				}
			}
		}
	}
}

func (m *Manager) writeAccess(e AccessEntry) {
	m.Logger.Infow("request",
		"remoteAddr", e.RemoteAddr,
		"action", e.Action,
		"database", e.Database,
		"collection", e.Collection)
}
