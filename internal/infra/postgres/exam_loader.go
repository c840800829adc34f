package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"arena-engine/internal/domain"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ExamLoader loads exam JSONB from Postgres.
type ExamLoader struct {
	pool *pgxpool.Pool
}

func NewExamLoader(pool *pgxpool.Pool) *ExamLoader {
	return &ExamLoader{pool: pool}
}

func (l *ExamLoader) LoadExam(ctx context.Context, lessonID string) (domain.ExamSession, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM exams WHERE lesson_id=$1`, lessonID).Scan(&raw)
	if err != nil {
		return domain.ExamSession{}, fmt.Errorf("load exam: %w", err)
	}
	var exam domain.ExamSession
	if err := json.Unmarshal(raw, &exam); err != nil {
		return domain.ExamSession{}, fmt.Errorf("unmarshal exam: %w", err)
	}
	if exam.LessonID == "" {
		exam.LessonID = lessonID
	}
	return exam, nil
}
