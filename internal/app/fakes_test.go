package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"course_rewards/internal/domain/chain"
	"course_rewards/internal/domain/course"
	"course_rewards/internal/domain/enrollment"
	"course_rewards/internal/domain/reward"
	"course_rewards/internal/domain/student"
	"course_rewards/internal/infra/lock"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type pair struct{ studentID, courseID int64 }

// --- courses / students ---

type fakeCourses struct {
	courses map[int64]*course.Course
}

func (f *fakeCourses) GetByID(ctx context.Context, id int64) (*course.Course, error) {
	c, ok := f.courses[id]
	if !ok {
		return nil, course.ErrCourseNotFound
	}
	return c, nil
}

type fakeStudents struct {
	mu       sync.Mutex
	students map[int64]*student.Student
}

func (f *fakeStudents) GetByID(ctx context.Context, id int64) (*student.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.students[id]
	if !ok {
		return nil, student.ErrStudentNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStudents) setWallet(id int64, addr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.students[id].WalletAddress = sql.NullString{String: addr, Valid: addr != ""}
}

// --- enrollments ---

type fakeEnrollments struct {
	mu   sync.Mutex
	rows map[pair]*enrollment.Enrollment

	// rewards backs the join in ListCompletedWithoutReward.
	rewards *fakeRewards
}

func newFakeEnrollments(rewards *fakeRewards) *fakeEnrollments {
	return &fakeEnrollments{rows: make(map[pair]*enrollment.Enrollment), rewards: rewards}
}

func copyEnrollment(e *enrollment.Enrollment) *enrollment.Enrollment {
	cp := *e
	cp.CompletedLessons = enrollment.NewLessonSet(e.CompletedLessons.Slice()...)
	return &cp
}

func (f *fakeEnrollments) Create(ctx context.Context, e *enrollment.Enrollment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := pair{e.StudentID, e.CourseID}
	if _, ok := f.rows[k]; ok {
		return enrollment.ErrAlreadyEnrolled
	}
	f.rows[k] = copyEnrollment(e)
	return nil
}

func (f *fakeEnrollments) Get(ctx context.Context, studentID, courseID int64) (*enrollment.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.rows[pair{studentID, courseID}]
	if !ok {
		return nil, enrollment.ErrNotEnrolled
	}
	return copyEnrollment(e), nil
}

func (f *fakeEnrollments) Mutate(ctx context.Context, studentID, courseID int64, fn func(e *enrollment.Enrollment) error) (*enrollment.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.rows[pair{studentID, courseID}]
	if !ok {
		return nil, enrollment.ErrNotEnrolled
	}
	e := copyEnrollment(stored)
	if err := fn(e); err != nil {
		return nil, err
	}
	f.rows[pair{studentID, courseID}] = copyEnrollment(e)
	return e, nil
}

func (f *fakeEnrollments) ListCompletedWithoutReward(ctx context.Context, completedBefore time.Time, limit int) ([]*enrollment.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*enrollment.Enrollment, 0)
	for k, e := range f.rows {
		if !e.CompletedAt.Valid || !e.CompletedAt.Time.Before(completedBefore) {
			continue
		}
		if _, err := f.rewards.Get(ctx, k.studentID, k.courseID); err == nil {
			continue
		}
		out = append(out, copyEnrollment(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.Time.Before(out[j].CompletedAt.Time) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- rewards ---

type fakeRewards struct {
	mu      sync.Mutex
	records map[pair]*reward.Record
	history map[pair][]reward.Transition
	creates int
	// failSave makes the next Save fail with this error.
	failSave error
}

func newFakeRewards() *fakeRewards {
	return &fakeRewards{
		records: make(map[pair]*reward.Record),
		history: make(map[pair][]reward.Transition),
	}
}

func (f *fakeRewards) Create(ctx context.Context, r *reward.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	k := pair{r.StudentID, r.CourseID}
	if _, ok := f.records[k]; ok {
		return reward.ErrDuplicateAwardAttempt
	}
	cp := *r
	f.records[k] = &cp
	f.history[k] = append(f.history[k], reward.Transition{StudentID: r.StudentID, CourseID: r.CourseID, To: r.Status, At: r.CreatedAt})
	return nil
}

func (f *fakeRewards) Get(ctx context.Context, studentID, courseID int64) (*reward.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[pair{studentID, courseID}]
	if !ok {
		return nil, reward.ErrNotAwarded
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRewards) Save(ctx context.Context, r *reward.Record, t reward.Transition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSave != nil {
		err := f.failSave
		f.failSave = nil
		return err
	}
	k := pair{r.StudentID, r.CourseID}
	stored, ok := f.records[k]
	if !ok {
		return reward.ErrNotAwarded
	}
	if stored.Status != t.From {
		return fmt.Errorf("%w: expected status %s", reward.ErrStaleRecord, t.From)
	}
	cp := *r
	f.records[k] = &cp
	f.history[k] = append(f.history[k], t)
	return nil
}

func (f *fakeRewards) ListByStatus(ctx context.Context, statuses []reward.Status, updatedBefore time.Time, limit int) ([]*reward.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*reward.Record, 0)
	for _, r := range f.records {
		if !r.UpdatedAt.Before(updatedBefore) {
			continue
		}
		for _, s := range statuses {
			if r.Status == s {
				cp := *r
				out = append(out, &cp)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRewards) History(ctx context.Context, studentID, courseID int64) ([]reward.Transition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]reward.Transition(nil), f.history[pair{studentID, courseID}]...), nil
}

func (f *fakeRewards) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// put stores a record directly, bypassing Create.
func (f *fakeRewards) put(r *reward.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *r
	f.records[pair{r.StudentID, r.CourseID}] = &cp
}

// --- chain ---

type fakeChain struct {
	mu        sync.Mutex
	completed map[string]bool // addr|course
	awards    int
	hasCalls  int

	// awardErr, when set, is returned by AwardTokens instead of minting.
	awardErr func(addr string, courseID int64) error
	// mintOnReject records the award even when awardErr fires, simulating a
	// concurrent writer that landed first.
	mintOnReject bool
	hasErr       error
	waitErr      error
	// waitBlock, when set, makes WaitConfirmed wait until it is closed.
	waitBlock chan struct{}
}

func newFakeChain() *fakeChain {
	return &fakeChain{completed: make(map[string]bool)}
}

func chainKey(addr string, courseID int64) string {
	return fmt.Sprintf("%s|%d", strings.ToLower(addr), courseID)
}

func (f *fakeChain) HasCourseCompleted(ctx context.Context, addr string, courseID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hasCalls++
	if f.hasErr != nil {
		return false, f.hasErr
	}
	return f.completed[chainKey(addr, courseID)], nil
}

func (f *fakeChain) AwardTokens(ctx context.Context, addr string, courseID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.awardErr != nil {
		if err := f.awardErr(addr, courseID); err != nil {
			if f.mintOnReject {
				f.completed[chainKey(addr, courseID)] = true
			}
			return "", err
		}
	}
	if f.completed[chainKey(addr, courseID)] {
		return "", &chain.RejectedError{Reason: chain.ReasonCourseAlreadyCompleted}
	}
	f.awards++
	f.completed[chainKey(addr, courseID)] = true
	return fmt.Sprintf("0x%064x", f.awards), nil
}

func (f *fakeChain) WaitConfirmed(ctx context.Context, txHash string) error {
	f.mu.Lock()
	block, err := f.waitBlock, f.waitErr
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeChain) CompletedCourses(ctx context.Context, addr string) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int64
	prefix := strings.ToLower(addr) + "|"
	for k, done := range f.completed {
		if done && strings.HasPrefix(k, prefix) {
			var id int64
			fmt.Sscanf(strings.TrimPrefix(k, prefix), "%d", &id)
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (f *fakeChain) ValidAddress(addr string) bool {
	return strings.HasPrefix(addr, "0x") && len(addr) == 42
}

func (f *fakeChain) awardCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.awards
}

func (f *fakeChain) set(fn func(f *fakeChain)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// --- notifier ---

type recordingNotifier struct {
	mu      sync.Mutex
	settled []reward.Record

	// holdOn, when hold is set, makes RewardSettled for that status wait
	// until hold is closed. Set both before any background work starts.
	holdOn reward.Status
	hold   chan struct{}
}

func (n *recordingNotifier) RewardSettled(ctx context.Context, rec *reward.Record) {
	n.mu.Lock()
	n.settled = append(n.settled, *rec)
	n.mu.Unlock()
	if n.hold != nil && rec.Status == n.holdOn {
		<-n.hold
	}
}

func (n *recordingNotifier) statuses() []reward.Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]reward.Status, 0, len(n.settled))
	for _, r := range n.settled {
		out = append(out, r.Status)
	}
	return out
}

// flakyLocker fails the next `failures` Lock calls, then delegates to next.
type flakyLocker struct {
	mu       sync.Mutex
	failures int
	next     PairLocker
}

func (l *flakyLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	if l.failures > 0 {
		l.failures--
		l.mu.Unlock()
		return nil, lock.ErrLockNotAcquired
	}
	l.mu.Unlock()
	return l.next.Lock(ctx, key)
}

// nopLocker lets concurrent callers through so the storage uniqueness
// check alone has to hold the line.
type nopLocker struct{}

func (nopLocker) Lock(ctx context.Context, key string) (func(), error) {
	return func() {}, nil
}

// --- fixture ---

const (
	walletA     = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	testStudent = int64(7)
	testCourse  = int64(3)
	emptyCourse = int64(4)
)

type fixture struct {
	courses     *fakeCourses
	students    *fakeStudents
	enrollments *fakeEnrollments
	rewards     *fakeRewards
	chain       *fakeChain
	notifier    *recordingNotifier

	tracker    *EnrollmentTracker
	reconciler *ChainReconciler
	ledger     *RewardLedger
	completion *CompletionService
	admin      *AdminService
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	locker         PairLocker
	confirmTimeout time.Duration
}

func withLocker(l PairLocker) fixtureOption {
	return func(c *fixtureConfig) { c.locker = l }
}

func withConfirmTimeout(d time.Duration) fixtureOption {
	return func(c *fixtureConfig) { c.confirmTimeout = d }
}

func newFixture(mode reward.Mode, opts ...fixtureOption) *fixture {
	cfg := fixtureConfig{locker: lock.NewKeyedMutex(), confirmTimeout: 5 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}

	rewards := newFakeRewards()
	f := &fixture{
		courses: &fakeCourses{courses: map[int64]*course.Course{
			testCourse:  {ID: testCourse, Title: "Smart contracts 101", TokenReward: 100, LessonIDs: []int64{11, 12, 13}},
			emptyCourse: {ID: emptyCourse, Title: "Welcome", TokenReward: 5},
		}},
		students: &fakeStudents{students: map[int64]*student.Student{
			testStudent: {ID: testStudent, DisplayName: "Ada", WalletAddress: sql.NullString{String: walletA, Valid: true}},
			8:           {ID: 8, DisplayName: "No Wallet"},
		}},
		enrollments: newFakeEnrollments(rewards),
		rewards:     rewards,
		chain:       newFakeChain(),
		notifier:    &recordingNotifier{},
	}

	logger := quietLogger()
	f.tracker = NewEnrollmentTracker(f.enrollments, f.courses, f.students, logger)
	if mode == reward.ModeOnChain {
		f.reconciler = NewChainReconciler(f.rewards, f.students, f.chain, f.notifier, cfg.confirmTimeout, logger)
	}
	f.ledger = NewRewardLedger(f.rewards, f.courses, f.reconciler, cfg.locker, f.notifier, mode, logger)
	f.completion = NewCompletionService(f.tracker, f.ledger, logger)
	f.admin = NewAdminService(f.ledger, f.reconciler, 42)
	return f
}

// settle waits for background chain work to finish.
func (f *fixture) settle() error {
	if f.reconciler == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.reconciler.Shutdown(ctx)
}

func (f *fixture) completeAll(ctx context.Context, sID, cID int64) (*CompletionOutcome, error) {
	c := f.courses.courses[cID]
	var out *CompletionOutcome
	var err error
	for _, lessonID := range c.LessonIDs {
		out, err = f.completion.HandleLessonCompleted(ctx, LessonCompletionEvent{StudentID: sID, CourseID: cID, LessonID: lessonID, TimeSpent: time.Minute})
		if err != nil {
			return out, err
		}
	}
	return out, nil
}
