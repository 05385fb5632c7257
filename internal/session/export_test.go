package session

// SetBaseURL points the manager at a test server instead of the live
// messaging UI.
func (m *Manager) SetBaseURL(u string) { m.baseURL = u }
