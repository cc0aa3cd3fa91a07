package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"time"

	"github.com/google/uuid"

	xerrors "github.com/meaningfill/class-sub000/internal/errors"
	"github.com/meaningfill/class-sub000/internal/session"
)

// SessionStore 将会话保存在 sessions 与 session_turns 两张表中。
type SessionStore struct {
	db  *DB
	now func() time.Time
}

// NewSessionStore 创建 SessionStore。
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db, now: time.Now}
}

// Create 铸造并插入新会话。
func (s *SessionStore) Create(ctx context.Context) (*session.Session, error) {
	now := s.now().UTC()
	created := &session.Session{
		ID:        uuid.NewString(),
		Status:    session.StatusNew,
		CreatedAt: now,
		UpdatedAt: now,
	}

	const stmt = `INSERT INTO sessions (id, status, latest_intent, analyzed_seq, turn_count, created_at, updated_at)
        VALUES (?, ?, NULL, 0, 0, ?, ?)`
	if _, err := s.db.db.ExecContext(ctx, stmt, created.ID, string(created.Status), now.UnixMilli(), now.UnixMilli()); err != nil {
		if isDuplicate(err) {
			return nil, xerrors.Wrap(xerrors.CodeConflict, err, "会话 ID 冲突")
		}
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "插入会话失败")
	}
	return created, nil
}

// Get 查询会话及其全部轮次。
func (s *SessionStore) Get(ctx context.Context, id string) (*session.Session, error) {
	const stmt = `SELECT id, status, latest_intent, analyzed_seq, created_at, updated_at FROM sessions WHERE id = ?`

	var (
		result       session.Session
		status       string
		latestIntent sql.NullString
		createdAt    int64
		updatedAt    int64
	)
	err := s.db.db.QueryRowContext(ctx, stmt, id).Scan(&result.ID, &status, &latestIntent, &result.AnalyzedSeq, &createdAt, &updatedAt)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "查询会话失败")
	}
	result.Status = session.Status(status)
	result.CreatedAt = time.UnixMilli(createdAt).UTC()
	result.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if latestIntent.Valid && latestIntent.String != "" {
		var intent session.Intent
		if err := json.Unmarshal([]byte(latestIntent.String), &intent); err != nil {
			return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "解析会话意图失败")
		}
		result.LatestIntent = &intent
	}

	turns, err := s.listTurns(ctx, id)
	if err != nil {
		return nil, err
	}
	result.Turns = turns
	return &result, nil
}

func (s *SessionStore) listTurns(ctx context.Context, id string) ([]session.Turn, error) {
	rows, err := s.db.db.QueryContext(ctx, `SELECT seq, role, content, created_at FROM session_turns WHERE session_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "查询会话轮次失败")
	}
	defer rows.Close()

	var turns []session.Turn
	for rows.Next() {
		var (
			turn      session.Turn
			role      string
			createdAt int64
		)
		if err := rows.Scan(&turn.Seq, &role, &turn.Content, &createdAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "解析会话轮次失败")
		}
		turn.Role = session.Role(role)
		turn.CreatedAt = time.UnixMilli(createdAt).UTC()
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "遍历会话轮次失败")
	}
	return turns, nil
}

// AppendTurn 在事务内分配序号并写入轮次。
func (s *SessionStore) AppendTurn(ctx context.Context, id string, role session.Role, content string) (session.Turn, error) {
	if err := session.ValidateTurn(role, content); err != nil {
		return session.Turn{}, err
	}

	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return session.Turn{}, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "开启事务失败")
	}
	defer tx.Rollback()

	var (
		count  int64
		status string
	)
	row := tx.QueryRowContext(ctx, `SELECT turn_count, status FROM sessions WHERE id = ?`+s.db.forUpdate(), id)
	if err := row.Scan(&count, &status); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return session.Turn{}, session.ErrNotFound
		}
		return session.Turn{}, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "查询会话失败")
	}

	now := s.now().UTC()
	turn := session.Turn{Seq: count + 1, Role: role, Content: content, CreatedAt: now}
	if _, err := tx.ExecContext(ctx, `INSERT INTO session_turns (session_id, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, turn.Seq, string(role), content, now.UnixMilli()); err != nil {
		if isDuplicate(err) {
			return session.Turn{}, xerrors.Wrap(xerrors.CodeConflict, err, "会话轮次序号冲突")
		}
		return session.Turn{}, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "写入会话轮次失败")
	}
	next := session.NextStatus(session.Status(status))
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET turn_count = ?, status = ?, updated_at = ? WHERE id = ?`,
		turn.Seq, string(next), now.UnixMilli(), id); err != nil {
		return session.Turn{}, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "更新会话失败")
	}
	if err := tx.Commit(); err != nil {
		return session.Turn{}, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "提交事务失败")
	}
	return turn, nil
}

// UpdateIntent 按序号保护写入最新意图与转化状态。
func (s *SessionStore) UpdateIntent(ctx context.Context, id string, intent session.Intent, status session.Status, seq int64) (session.UpdateResult, error) {
	encoded, err := json.Marshal(intent.Normalized())
	if err != nil {
		return session.UpdateResult{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码意图失败")
	}

	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return session.UpdateResult{}, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "开启事务失败")
	}
	defer tx.Rollback()

	var (
		current     string
		analyzedSeq int64
	)
	row := tx.QueryRowContext(ctx, `SELECT status, analyzed_seq FROM sessions WHERE id = ?`+s.db.forUpdate(), id)
	if err := row.Scan(&current, &analyzedSeq); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return session.UpdateResult{}, session.ErrNotFound
		}
		return session.UpdateResult{}, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "查询会话失败")
	}

	result := session.UpdateResult{Previous: session.Status(current), Current: session.Status(current)}
	if seq < analyzedSeq {
		return result, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET latest_intent = ?, status = ?, analyzed_seq = ?, updated_at = ? WHERE id = ?`,
		string(encoded), string(status), seq, s.now().UTC().UnixMilli(), id); err != nil {
		return session.UpdateResult{}, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "更新会话意图失败")
	}
	if err := tx.Commit(); err != nil {
		return session.UpdateResult{}, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "提交事务失败")
	}
	result.Applied = true
	result.Current = status
	return result, nil
}

// Close 实现 session.Store，连接池由 DB 的持有者关闭。
func (s *SessionStore) Close() error { return nil }

var _ session.Store = (*SessionStore)(nil)
