package taskmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrTooManyTasks возвращается, когда достигнут лимит активных задач
	ErrTooManyTasks = errors.New("превышено максимальное количество активных задач")
	ErrTaskNotFound = errors.New("задача не найдена")
	ErrClosed       = errors.New("менеджер задач остановлен")
)

// Notifier получает обновления статуса задач (например, WebSocket hub)
type Notifier interface {
	Broadcast(messageType, topic string, payload interface{})
}

// Task представляет асинхронную задачу
type Task struct {
	ID        uuid.UUID
	Name      string
	Status    TaskStatus
	Message   string
	Result    interface{}
	Err       error
	CreatedAt time.Time
	UpdatedAt time.Time

	cancel context.CancelFunc
}

// TaskStatus представляет статус задачи
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

func (s TaskStatus) Active() bool {
	return s == TaskStatusPending || s == TaskStatusRunning
}

// TaskFunc представляет функцию, выполняемую в задаче
type TaskFunc func(ctx context.Context) (interface{}, error)

// TaskCallback вызывается при каждом изменении статуса задачи
type TaskCallback func(task Task)

// Config содержит конфигурацию для TaskManager
type Config struct {
	MaxTasks int
}

// TaskManager управляет асинхронными задачами (сценами)
type TaskManager struct {
	mu        sync.RWMutex
	tasks     map[uuid.UUID]*Task
	callbacks map[uuid.UUID][]TaskCallback
	maxTasks  int
	notifier  Notifier
	closed    bool
	wg        sync.WaitGroup
}

// New создает новый экземпляр TaskManager
func New(cfg Config) *TaskManager {
	maxTasks := cfg.MaxTasks
	if maxTasks <= 0 {
		maxTasks = 10
	}
	return &TaskManager{
		tasks:     make(map[uuid.UUID]*Task),
		callbacks: make(map[uuid.UUID][]TaskCallback),
		maxTasks:  maxTasks,
	}
}

// SetNotifier устанавливает получателя обновлений статуса
func (tm *TaskManager) SetNotifier(n Notifier) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.notifier = n
}

// SubmitTask создает и запускает новую задачу.
// Контекст задачи не зависит от ctx (запрос может завершиться раньше), наследуется только логгер.
func (tm *TaskManager) SubmitTask(ctx context.Context, name string, fn TaskFunc, callbacks ...TaskCallback) (uuid.UUID, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.closed {
		return uuid.Nil, ErrClosed
	}
	active := 0
	for _, task := range tm.tasks {
		if task.Status.Active() {
			active++
		}
	}
	if active >= tm.maxTasks {
		return uuid.Nil, fmt.Errorf("%w (%d)", ErrTooManyTasks, tm.maxTasks)
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	taskCtx := log.Ctx(ctx).WithContext(baseCtx)

	now := time.Now()
	task := &Task{
		ID:        uuid.New(),
		Name:      name,
		Status:    TaskStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		cancel:    cancel,
	}
	tm.tasks[task.ID] = task
	if len(callbacks) > 0 {
		tm.callbacks[task.ID] = append([]TaskCallback(nil), callbacks...)
	}

	tm.wg.Add(1)
	go func() {
		defer tm.wg.Done()
		defer cancel()
		tm.runTask(taskCtx, task, fn)
	}()

	return task.ID, nil
}

// runTask выполняет задачу и обновляет ее статус
func (tm *TaskManager) runTask(ctx context.Context, task *Task, fn TaskFunc) {
	tm.updateTaskStatus(ctx, task, TaskStatusRunning, "Задача запущена", nil, nil)

	result, err := func() (res interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn(ctx)
	}()

	switch {
	case err != nil && errors.Is(ctx.Err(), context.Canceled):
		log.Ctx(ctx).Info().Str("taskID", task.ID.String()).Str("task", task.Name).Msg("Задача отменена")
		tm.updateTaskStatus(ctx, task, TaskStatusCancelled, "Задача отменена", result, err)
	case err != nil:
		log.Ctx(ctx).Error().Err(err).Str("taskID", task.ID.String()).Str("task", task.Name).Msg("Задача завершилась с ошибкой")
		tm.updateTaskStatus(ctx, task, TaskStatusFailed, fmt.Sprintf("Ошибка: %v", err), result, err)
	default:
		tm.updateTaskStatus(ctx, task, TaskStatusCompleted, "Задача успешно выполнена", result, nil)
	}
}

// updateTaskStatus обновляет статус задачи и отправляет уведомления
func (tm *TaskManager) updateTaskStatus(ctx context.Context, task *Task, status TaskStatus, message string, result interface{}, err error) {
	tm.mu.Lock()
	task.Status = status
	task.Message = message
	task.UpdatedAt = time.Now()
	if result != nil {
		task.Result = result
	}
	task.Err = err
	snapshot := *task
	callbacks := append([]TaskCallback(nil), tm.callbacks[task.ID]...)
	notifier := tm.notifier
	tm.mu.Unlock()

	for _, cb := range callbacks {
		cb(snapshot)
	}
	if notifier != nil {
		notifier.Broadcast("task_update", "tasks", map[string]interface{}{
			"taskId":    snapshot.ID,
			"name":      snapshot.Name,
			"status":    snapshot.Status,
			"message":   snapshot.Message,
			"updatedAt": snapshot.UpdatedAt,
		})
	}

	log.Ctx(ctx).Debug().
		Str("taskID", task.ID.String()).
		Str("task", snapshot.Name).
		Str("newStatus", string(status)).
		Msg("Статус задачи обновлен")
}

// GetTask возвращает копию задачи по ID
func (tm *TaskManager) GetTask(taskID uuid.UUID) (Task, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	task, ok := tm.tasks[taskID]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return *task, nil
}

// ActiveCount возвращает число выполняющихся задач
func (tm *TaskManager) ActiveCount() int {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	n := 0
	for _, task := range tm.tasks {
		if task.Status.Active() {
			n++
		}
	}
	return n
}

// CancelTask отменяет контекст задачи. Итоговый статус выставит runTask.
func (tm *TaskManager) CancelTask(taskID uuid.UUID) error {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	task, ok := tm.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if !task.Status.Active() {
		return fmt.Errorf("невозможно отменить задачу в статусе %s", task.Status)
	}
	task.cancel()
	return nil
}

// CleanupTasks удаляет завершенные задачи, которые старше указанного времени
func (tm *TaskManager) CleanupTasks(age time.Duration) int {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	removed := 0
	now := time.Now()
	for id, task := range tm.tasks {
		if !task.Status.Active() && now.Sub(task.UpdatedAt) > age {
			delete(tm.tasks, id)
			delete(tm.callbacks, id)
			removed++
		}
	}
	return removed
}

// Shutdown отменяет все задачи и ждет их завершения до истечения ctx
func (tm *TaskManager) Shutdown(ctx context.Context) error {
	tm.mu.Lock()
	tm.closed = true
	for _, task := range tm.tasks {
		if task.Status.Active() {
			task.cancel()
		}
	}
	tm.mu.Unlock()

	done := make(chan struct{})
	go func() {
		tm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("таймаут при ожидании завершения задач")
	}
}
