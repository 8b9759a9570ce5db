// internal/storage/archive.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Corphon/AIHouse/internal/models"
	"github.com/Corphon/AIHouse/internal/narrative"
	"github.com/Corphon/AIHouse/internal/utils"
)

const archiveWriteTimeout = 3 * time.Second

const archiveSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	ts         INTEGER NOT NULL,
	speaker    TEXT NOT NULL,
	type       TEXT NOT NULL,
	content    TEXT NOT NULL,
	triggers   TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages(ts);

CREATE TABLE IF NOT EXISTS summaries (
	seq               INTEGER PRIMARY KEY AUTOINCREMENT,
	ts                INTEGER NOT NULL,
	summary           TEXT NOT NULL,
	theme             TEXT NOT NULL,
	tone              TEXT NOT NULL,
	tone_score        REAL NOT NULL,
	strategy          TEXT NOT NULL,
	active_characters TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS arc_transitions (
	seq     INTEGER PRIMARY KEY AUTOINCREMENT,
	ts      INTEGER NOT NULL,
	arc_id  TEXT NOT NULL,
	kind    TEXT NOT NULL,
	message TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS scenario_runs (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	ts          INTEGER NOT NULL,
	scenario_id TEXT NOT NULL,
	kind        TEXT NOT NULL,
	message     TEXT NOT NULL
);
`

// ArchiveCounts 各表行数
type ArchiveCounts struct {
	Messages       int64 `json:"messages"`
	Summaries      int64 `json:"summaries"`
	ArcTransitions int64 `json:"arc_transitions"`
	ScenarioRuns   int64 `json:"scenario_runs"`
}

// Archive 节目全程的持久化记录。内存中的消息日志有上限，这里保留完整历史。
// 实现 reflector.Observer，并通过 OnNarrativeEvent 接收剧情事件。
type Archive struct {
	db     *sql.DB
	logger *utils.Logger
}

// OpenArchive 打开（必要时创建）SQLite 档案库
func OpenArchive(dbPath string, logger *utils.Logger) (*Archive, error) {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("档案库路径为空")
	}
	if dbPath != ":memory:" {
		if parent := filepath.Dir(dbPath); parent != "" && parent != "." {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return nil, fmt.Errorf("创建档案目录失败: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, pragma := range []string{
		`PRAGMA busy_timeout = 5000;`,
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA foreign_keys = ON;`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("设置 %s 失败: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, archiveSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("初始化档案表失败: %w", err)
	}

	logger.Info("🗄️ 档案库已打开", map[string]interface{}{"path": dbPath})
	return &Archive{db: db, logger: logger}, nil
}

// Close 关闭数据库
func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *Archive) exec(query string, args ...interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveWriteTimeout)
	defer cancel()
	if _, err := a.db.ExecContext(ctx, query, args...); err != nil {
		a.logger.Error("❌ 写入档案失败", map[string]interface{}{"error": err.Error()})
	}
}

func encodeList(items []string) string {
	if items == nil {
		items = []string{}
	}
	data, _ := json.Marshal(items)
	return string(data)
}

// OnMessage 记录消息
func (a *Archive) OnMessage(msg models.Message) {
	a.exec(`INSERT OR IGNORE INTO messages (id, ts, speaker, type, content, triggers) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Timestamp.UnixMilli(), msg.Speaker, string(msg.Type), msg.Content, encodeList(msg.Triggers))
}

// OnSummary 记录摘要
func (a *Archive) OnSummary(s models.SceneSummary) {
	a.exec(`INSERT INTO summaries (ts, summary, theme, tone, tone_score, strategy, active_characters) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.Timestamp.UnixMilli(), s.Summary, s.Theme, s.EmotionalTone, s.ToneScore, s.Strategy, encodeList(s.ActiveCharacters))
}

// OnNarrativeEvent 记录剧情弧转场与剧本事件
func (a *Archive) OnNarrativeEvent(ev narrative.Event) {
	if ev.ScenarioID != "" {
		a.exec(`INSERT INTO scenario_runs (ts, scenario_id, kind, message) VALUES (?, ?, ?, ?)`,
			ev.Timestamp.UnixMilli(), ev.ScenarioID, string(ev.Kind), ev.Message)
		return
	}
	a.exec(`INSERT INTO arc_transitions (ts, arc_id, kind, message) VALUES (?, ?, ?, ?)`,
		ev.Timestamp.UnixMilli(), ev.ArcID, string(ev.Kind), ev.Message)
}

// RecentMessages 最近 limit 条消息，按时间正序
func (a *Archive) RecentMessages(ctx context.Context, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, ts, speaker, type, content, triggers FROM messages ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询消息失败: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var (
			m        models.Message
			ts       int64
			msgType  string
			triggers string
		)
		if err := rows.Scan(&m.ID, &ts, &m.Speaker, &msgType, &m.Content, &triggers); err != nil {
			return nil, err
		}
		m.Timestamp = time.UnixMilli(ts)
		m.Type = models.MessageType(msgType)
		if err := json.Unmarshal([]byte(triggers), &m.Triggers); err != nil {
			m.Triggers = nil
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Counts 各表行数
func (a *Archive) Counts(ctx context.Context) (ArchiveCounts, error) {
	var c ArchiveCounts
	row := a.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM messages),
		(SELECT COUNT(*) FROM summaries),
		(SELECT COUNT(*) FROM arc_transitions),
		(SELECT COUNT(*) FROM scenario_runs)`)
	if err := row.Scan(&c.Messages, &c.Summaries, &c.ArcTransitions, &c.ScenarioRuns); err != nil {
		return ArchiveCounts{}, fmt.Errorf("统计档案失败: %w", err)
	}
	return c, nil
}
