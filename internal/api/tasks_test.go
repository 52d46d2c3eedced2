package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"taskhub/internal/config"
	"taskhub/internal/model"
	"taskhub/internal/pkg/metrics"
	"taskhub/internal/store"

	"github.com/gin-gonic/gin"
)

type mockTaskStore struct {
	createFunc  func(ctx context.Context, task *model.Task) error
	getFunc     func(ctx context.Context, userID, taskID uint) (*model.Task, error)
	updateFunc  func(ctx context.Context, userID, taskID uint, updates map[string]interface{}) (*model.Task, error)
	deleteFunc  func(ctx context.Context, userID, taskID uint) error
	listFunc    func(ctx context.Context, userID uint, filter store.ListFilter) ([]model.Task, int64, error)
	statsFunc   func(ctx context.Context, userID uint) (*store.TaskStats, error)
	createCalls int
}

func (m *mockTaskStore) Create(ctx context.Context, task *model.Task) error {
	m.createCalls++
	return m.createFunc(ctx, task)
}

func (m *mockTaskStore) Get(ctx context.Context, userID, taskID uint) (*model.Task, error) {
	return m.getFunc(ctx, userID, taskID)
}

func (m *mockTaskStore) Update(ctx context.Context, userID, taskID uint, updates map[string]interface{}) (*model.Task, error) {
	return m.updateFunc(ctx, userID, taskID, updates)
}

func (m *mockTaskStore) Delete(ctx context.Context, userID, taskID uint) error {
	return m.deleteFunc(ctx, userID, taskID)
}

func (m *mockTaskStore) List(ctx context.Context, userID uint, filter store.ListFilter) ([]model.Task, int64, error) {
	return m.listFunc(ctx, userID, filter)
}

func (m *mockTaskStore) Stats(ctx context.Context, userID uint) (*store.TaskStats, error) {
	return m.statsFunc(ctx, userID)
}

type mockStatsCache struct {
	stats           *store.TaskStats
	setCalls        int
	invalidateCalls int
}

func (m *mockStatsCache) Get(ctx context.Context, userID uint) (*store.TaskStats, bool) {
	if m.stats == nil {
		return nil, false
	}
	return m.stats, true
}

func (m *mockStatsCache) Set(ctx context.Context, userID uint, stats *store.TaskStats) error {
	m.setCalls++
	m.stats = stats
	return nil
}

func (m *mockStatsCache) Invalidate(ctx context.Context, userID uint) error {
	m.invalidateCalls++
	m.stats = nil
	return nil
}

func newTestServer(taskStore TaskStore, cache StatsCache) (*Server, *gin.Engine) {
	gin.SetMode(gin.TestMode)
	metrics.InitMetrics()
	s := &Server{
		cfg: &config.Config{App: config.AppConfig{
			Env:             "local",
			DefaultPageSize: 10,
			MaxPageSize:     100,
		}},
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		taskStore:  taskStore,
		statsCache: cache,
	}

	r := gin.New()
	asUser := func(h gin.HandlerFunc) gin.HandlerFunc {
		return func(c *gin.Context) {
			c.Set("userID", uint(1))
			h(c)
		}
	}
	r.POST("/tasks", asUser(s.handleCreateTask))
	r.GET("/tasks", asUser(s.handleListTasks))
	r.GET("/tasks/stats/overview", asUser(s.handleTaskStats))
	r.GET("/tasks/:id", asUser(s.handleGetTask))
	r.PUT("/tasks/:id", asUser(s.handleUpdateTask))
	r.DELETE("/tasks/:id", asUser(s.handleDeleteTask))
	return s, r
}

func TestCreateTask_Defaults(t *testing.T) {
	taskStore := &mockTaskStore{
		createFunc: func(ctx context.Context, task *model.Task) error {
			task.ID = 1
			return nil
		},
	}
	cache := &mockStatsCache{}
	_, r := newTestServer(taskStore, cache)

	payload, _ := json.Marshal(map[string]interface{}{"title": "write report"})
	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Task taskResponse `json:"task"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Task.Status != model.TaskStatusPending {
		t.Fatalf("expected default status pending, got %q", body.Task.Status)
	}
	if body.Task.Priority != model.TaskPriorityMedium {
		t.Fatalf("expected default priority medium, got %q", body.Task.Priority)
	}
	if body.Task.Tags == nil {
		t.Fatalf("expected tags to serialize as [], got null")
	}
	if cache.invalidateCalls != 1 {
		t.Fatalf("expected stats cache invalidation on create")
	}
}

func TestCreateTask_ValidationErrors(t *testing.T) {
	taskStore := &mockTaskStore{
		createFunc: func(ctx context.Context, task *model.Task) error { return nil },
	}
	_, r := newTestServer(taskStore, &mockStatsCache{})

	cases := []map[string]interface{}{
		{},                                  // title 缺失
		{"title": ""},                       // title 为空
		{"title": "x", "status": "done"},    // 非法状态
		{"title": "x", "priority": "vital"}, // 非法优先级
	}
	for i, payload := range cases {
		raw, _ := json.Marshal(payload)
		req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Fatalf("case %d: expected 400, got %d: %s", i, w.Code, w.Body.String())
		}
	}
	if taskStore.createCalls != 0 {
		t.Fatalf("expected no create calls on validation failure")
	}
}

func TestGetTask_NotOwned(t *testing.T) {
	taskStore := &mockTaskStore{
		getFunc: func(ctx context.Context, userID, taskID uint) (*model.Task, error) {
			return nil, store.ErrNotFound
		},
	}
	_, r := newTestServer(taskStore, &mockStatsCache{})

	req := httptest.NewRequest(http.MethodGet, "/tasks/99", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetTask_InvalidID(t *testing.T) {
	taskStore := &mockTaskStore{
		getFunc: func(ctx context.Context, userID, taskID uint) (*model.Task, error) {
			t.Fatalf("store should not be reached for invalid id")
			return nil, nil
		},
	}
	_, r := newTestServer(taskStore, &mockStatsCache{})

	req := httptest.NewRequest(http.MethodGet, "/tasks/abc", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestUpdateTask_PartialFields(t *testing.T) {
	var gotUpdates map[string]interface{}
	taskStore := &mockTaskStore{
		updateFunc: func(ctx context.Context, userID, taskID uint, updates map[string]interface{}) (*model.Task, error) {
			gotUpdates = updates
			return &model.Task{ID: taskID, UserID: userID, Title: "t", Status: model.TaskStatusCompleted, Priority: model.TaskPriorityMedium}, nil
		},
	}
	cache := &mockStatsCache{}
	_, r := newTestServer(taskStore, cache)

	payload, _ := json.Marshal(map[string]interface{}{"status": "completed"})
	req := httptest.NewRequest(http.MethodPut, "/tasks/5", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(gotUpdates) != 1 || gotUpdates["status"] != model.TaskStatusCompleted {
		t.Fatalf("expected only status update, got %v", gotUpdates)
	}
	if cache.invalidateCalls != 1 {
		t.Fatalf("expected stats cache invalidation on update")
	}
}

func TestDeleteTask_NotOwned(t *testing.T) {
	taskStore := &mockTaskStore{
		deleteFunc: func(ctx context.Context, userID, taskID uint) error {
			return store.ErrNotFound
		},
	}
	cache := &mockStatsCache{}
	_, r := newTestServer(taskStore, cache)

	req := httptest.NewRequest(http.MethodDelete, "/tasks/3", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if cache.invalidateCalls != 0 {
		t.Fatalf("expected no invalidation when delete fails")
	}
}

func TestListTasks_Pagination(t *testing.T) {
	// 12 条任务、limit=10：第一页 hasNext、第二页 hasPrev
	total := int64(12)
	taskStore := &mockTaskStore{
		listFunc: func(ctx context.Context, userID uint, filter store.ListFilter) ([]model.Task, int64, error) {
			count := filter.PageSize
			remaining := int(total) - (filter.Page-1)*filter.PageSize
			if remaining < count {
				count = remaining
			}
			tasks := make([]model.Task, 0, count)
			for i := 0; i < count; i++ {
				tasks = append(tasks, model.Task{ID: uint(i + 1), UserID: userID, Title: fmt.Sprintf("task %d", i+1)})
			}
			return tasks, total, nil
		},
	}
	_, r := newTestServer(taskStore, &mockStatsCache{})

	type page struct {
		Tasks      []taskResponse     `json:"tasks"`
		Pagination paginationResponse `json:"pagination"`
	}
	fetch := func(url string) page {
		req := httptest.NewRequest(http.MethodGet, url, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		var p page
		if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return p
	}

	first := fetch("/tasks?page=1&limit=10")
	if len(first.Tasks) != 10 {
		t.Fatalf("expected 10 tasks on first page, got %d", len(first.Tasks))
	}
	if !first.Pagination.HasNext || first.Pagination.HasPrev {
		t.Fatalf("unexpected pagination on first page: %+v", first.Pagination)
	}
	if first.Pagination.TotalPages != 2 || first.Pagination.TotalTasks != 12 {
		t.Fatalf("unexpected totals: %+v", first.Pagination)
	}

	second := fetch("/tasks?page=2&limit=10")
	if len(second.Tasks) != 2 {
		t.Fatalf("expected 2 tasks on second page, got %d", len(second.Tasks))
	}
	if second.Pagination.HasNext || !second.Pagination.HasPrev {
		t.Fatalf("unexpected pagination on second page: %+v", second.Pagination)
	}
}

func TestListTasks_FilterValidation(t *testing.T) {
	var gotFilter store.ListFilter
	taskStore := &mockTaskStore{
		listFunc: func(ctx context.Context, userID uint, filter store.ListFilter) ([]model.Task, int64, error) {
			gotFilter = filter
			return []model.Task{}, 0, nil
		},
	}
	_, r := newTestServer(taskStore, &mockStatsCache{})

	// "all" 哨兵值转换为不过滤
	req := httptest.NewRequest(http.MethodGet, "/tasks?status=all&priority=high&sortBy=dueDate&sortOrder=asc", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if gotFilter.Status != "" || gotFilter.Priority != model.TaskPriorityHigh {
		t.Fatalf("unexpected filter: %+v", gotFilter)
	}
	if gotFilter.SortBy != "due_date" || gotFilter.SortDesc {
		t.Fatalf("unexpected sort: %+v", gotFilter)
	}

	for _, url := range []string{
		"/tasks?status=done",
		"/tasks?priority=vital",
		"/tasks?sortBy=password",
	} {
		req := httptest.NewRequest(http.MethodGet, url, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", url, w.Code)
		}
	}
}

func TestListTasks_LimitCapped(t *testing.T) {
	var gotFilter store.ListFilter
	taskStore := &mockTaskStore{
		listFunc: func(ctx context.Context, userID uint, filter store.ListFilter) ([]model.Task, int64, error) {
			gotFilter = filter
			return []model.Task{}, 0, nil
		},
	}
	_, r := newTestServer(taskStore, &mockStatsCache{})

	req := httptest.NewRequest(http.MethodGet, "/tasks?limit=5000&page=0", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotFilter.PageSize != 100 {
		t.Fatalf("expected limit capped at 100, got %d", gotFilter.PageSize)
	}
	if gotFilter.Page != 1 {
		t.Fatalf("expected page clamped to 1, got %d", gotFilter.Page)
	}
}

func TestTaskStats_CacheRoundTrip(t *testing.T) {
	statsCalls := 0
	taskStore := &mockTaskStore{
		statsFunc: func(ctx context.Context, userID uint) (*store.TaskStats, error) {
			statsCalls++
			return &store.TaskStats{
				TotalTasks: 3,
				StatusCounts: map[string]int64{
					model.TaskStatusPending:    2,
					model.TaskStatusInProgress: 1,
					model.TaskStatusCompleted:  0,
				},
				RecentTasks: []store.TaskSummary{},
			}, nil
		},
	}
	cache := &mockStatsCache{}
	_, r := newTestServer(taskStore, cache)

	fetch := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/tasks/stats/overview", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := fetch()
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if statsCalls != 1 || cache.setCalls != 1 {
		t.Fatalf("expected store hit and cache fill, got stats=%d set=%d", statsCalls, cache.setCalls)
	}

	// 第二次命中缓存，不再查库
	w = fetch()
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if statsCalls != 1 {
		t.Fatalf("expected cached stats, store was hit %d times", statsCalls)
	}

	var body store.TaskStats
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.TotalTasks != 3 || body.StatusCounts[model.TaskStatusCompleted] != 0 {
		t.Fatalf("unexpected stats: %+v", body)
	}
}
