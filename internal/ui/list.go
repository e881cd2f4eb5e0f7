package ui

import (
	"sort"

	"github.com/desertthunder/podtasks/internal/models"
)

// jobList keeps the jobs a watcher has seen, newest first.
type jobList struct {
	byID  map[string]models.Job
	order []string
}

func newJobList() *jobList {
	return &jobList{byID: make(map[string]models.Job)}
}

// reset replaces the list with an initial snapshot.
func (l *jobList) reset(jobs []models.Job) {
	l.byID = make(map[string]models.Job, len(jobs))
	for _, j := range jobs {
		l.byID[j.ID] = j
	}
	l.sort()
}

// apply folds one event in. A late non-terminal event never overwrites a terminal snapshot.
func (l *jobList) apply(e models.Event) {
	if cur, ok := l.byID[e.JobID]; ok {
		if cur.State.Terminal() {
			return
		}
		if e.State == cur.State && e.Progress < cur.Progress {
			return
		}
	}
	l.byID[e.JobID] = e.Job()
	l.sort()
}

// prune drops finished jobs.
func (l *jobList) prune() {
	for id, j := range l.byID {
		if j.State.Terminal() {
			delete(l.byID, id)
		}
	}
	l.sort()
}

func (l *jobList) sort() {
	l.order = l.order[:0]
	for id := range l.byID {
		l.order = append(l.order, id)
	}
	sort.Slice(l.order, func(a, b int) bool {
		ja, jb := l.byID[l.order[a]], l.byID[l.order[b]]
		if !ja.CreatedAt.Equal(jb.CreatedAt) {
			return ja.CreatedAt.After(jb.CreatedAt)
		}
		return ja.ID < jb.ID
	})
}

func (l *jobList) len() int { return len(l.order) }

func (l *jobList) at(i int) (models.Job, bool) {
	if i < 0 || i >= len(l.order) {
		return models.Job{}, false
	}
	return l.byID[l.order[i]], true
}

func (l *jobList) get(id string) (models.Job, bool) {
	j, ok := l.byID[id]
	return j, ok
}
