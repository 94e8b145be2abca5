package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"changeflow/internal/changerequest/models"
	"changeflow/pkg/platform/sentinel"
)

// InMemoryStore keeps change requests and satellites in maps guarded by one RWMutex.
// Reads and writes return copies so callers never share state with the store.
type InMemoryStore struct {
	mu sync.RWMutex

	seq            int64
	requests       map[int64]*models.ChangeRequest
	approvals      map[int64][]models.Approval
	testingResults map[int64][]models.TestingResult
	qaChecklists   map[int64][]models.QAChecklist
	deploymentTeam map[int64][]models.DeploymentTeamMember
	attachments    map[int64][]models.Attachment
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		requests:       make(map[int64]*models.ChangeRequest),
		approvals:      make(map[int64][]models.Approval),
		testingResults: make(map[int64][]models.TestingResult),
		qaChecklists:   make(map[int64][]models.QAChecklist),
		deploymentTeam: make(map[int64][]models.DeploymentTeamMember),
		attachments:    make(map[int64][]models.Attachment),
	}
}

func (s *InMemoryStore) nextID() int64 {
	s.seq++
	return s.seq
}

// Create assigns an id and stores cr at version 1. The CR number must be unique.
func (s *InMemoryStore) Create(_ context.Context, cr *models.ChangeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.requests {
		if existing.CRNumber == cr.CRNumber {
			return sentinel.ErrConflict
		}
	}
	cr.ID = s.nextID()
	cr.Version = 1
	s.requests[cr.ID] = cr.Clone()
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id int64) (*models.ChangeRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cr, ok := s.requests[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cr.Clone(), nil
}

// FindForUpdate is FindByID; row locking is provided by the sharded transaction.
func (s *InMemoryStore) FindForUpdate(ctx context.Context, id int64) (*models.ChangeRequest, error) {
	return s.FindByID(ctx, id)
}

// Save writes cr if its version matches the stored one, then bumps the version.
func (s *InMemoryStore) Save(_ context.Context, cr *models.ChangeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.requests[cr.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != cr.Version {
		return sentinel.ErrConflict
	}
	cr.Version++
	s.requests[cr.ID] = cr.Clone()
	return nil
}

// Search returns the requests matching filter, newest first.
func (s *InMemoryStore) Search(_ context.Context, filter models.SearchFilter) (*Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.ChangeRequest
	for _, cr := range s.requests {
		if filter.Matches(cr) {
			matched = append(matched, cr.Clone())
		}
	}
	sortNewestFirst(matched)

	page := &Page{Total: len(matched)}
	if filter.Offset >= len(matched) {
		page.Items = []*models.ChangeRequest{}
		return page, nil
	}
	end := len(matched)
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}
	page.Items = matched[filter.Offset:end]
	return page, nil
}

// Queue returns non-terminal requests in the queried stages, oldest first.
func (s *InMemoryStore) Queue(_ context.Context, q QueueQuery) ([]*models.ChangeRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*models.ChangeRequest{}
	for _, cr := range s.requests {
		if cr.CurrentStatus.IsTerminal() || !slices.Contains(q.Stages, cr.CurrentStage) {
			continue
		}
		if q.LineManagerID != 0 && cr.LineManagerID != q.LineManagerID {
			continue
		}
		if q.AssignedITOfficerID != 0 && !cr.IsAssignedTo(q.AssignedITOfficerID) {
			continue
		}
		if q.RequestedBy != 0 && cr.RequestedBy != q.RequestedBy {
			continue
		}
		out = append(out, cr.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) Statistics(_ context.Context) (*models.Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &models.Statistics{
		ByStatus:   map[models.Status]int{},
		ByStage:    map[models.Stage]int{},
		ByPriority: map[models.Priority]int{},
	}
	for _, cr := range s.requests {
		stats.Tally(cr)
	}
	return stats, nil
}

func sortNewestFirst(list []*models.ChangeRequest) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID > list[j].ID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}

// -----------------------------------------------------------------------------
// Satellites
// -----------------------------------------------------------------------------

func (s *InMemoryStore) AddApproval(_ context.Context, a *models.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.nextID()
	s.approvals[a.ChangeRequestID] = append(s.approvals[a.ChangeRequestID], *a)
	return nil
}

func (s *InMemoryStore) ListApprovals(_ context.Context, crID int64) ([]models.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.approvals[crID]), nil
}

func (s *InMemoryStore) AddTestingResults(_ context.Context, results []models.TestingResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range results {
		results[i].ID = s.nextID()
		crID := results[i].ChangeRequestID
		s.testingResults[crID] = append(s.testingResults[crID], results[i])
	}
	return nil
}

func (s *InMemoryStore) ListTestingResults(_ context.Context, crID int64) ([]models.TestingResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.testingResults[crID]), nil
}

func (s *InMemoryStore) AddQAChecklists(_ context.Context, items []models.QAChecklist) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range items {
		items[i].ID = s.nextID()
		crID := items[i].ChangeRequestID
		s.qaChecklists[crID] = append(s.qaChecklists[crID], items[i])
	}
	return nil
}

// ValidateQAChecklists marks every not-yet-validated checklist row of crID as validated.
func (s *InMemoryStore) ValidateQAChecklists(_ context.Context, crID int64, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.qaChecklists[crID] {
		item := &s.qaChecklists[crID][i]
		if item.Validated {
			continue
		}
		stamp := at
		item.Validated = true
		item.ValidationDate = &stamp
		n++
	}
	return n, nil
}

func (s *InMemoryStore) ListQAChecklists(_ context.Context, crID int64) ([]models.QAChecklist, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.qaChecklists[crID]), nil
}

func (s *InMemoryStore) AddDeploymentTeamMember(_ context.Context, m *models.DeploymentTeamMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.deploymentTeam[m.ChangeRequestID] {
		if existing.UserID == m.UserID {
			return sentinel.ErrConflict
		}
	}
	m.ID = s.nextID()
	s.deploymentTeam[m.ChangeRequestID] = append(s.deploymentTeam[m.ChangeRequestID], *m)
	return nil
}

func (s *InMemoryStore) ListDeploymentTeam(_ context.Context, crID int64) ([]models.DeploymentTeamMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.deploymentTeam[crID]), nil
}

func (s *InMemoryStore) AddAttachment(_ context.Context, a *models.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.nextID()
	s.attachments[a.ChangeRequestID] = append(s.attachments[a.ChangeRequestID], *a)
	return nil
}

func (s *InMemoryStore) ListAttachments(_ context.Context, crID int64) ([]models.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.attachments[crID]), nil
}
