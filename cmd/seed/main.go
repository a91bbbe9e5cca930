package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careslot/booking-service/internal/db"
)

const (
	doctorCount  = 50
	slotDays     = 14 // calendar days of slots per doctor
	slotsPerDay  = 8  // hourly slots starting 09:00
	slotDuration = time.Hour
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	doctorIDs, err := seedDoctors(context.Background(), pool, doctorCount)
	if err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedSlots(context.Background(), pool, doctorIDs); err != nil {
		log.Fatalf("seed slots: %v", err)
	}

	log.Println("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d doctors", count)

	specializations := []string{
		"General Practice",
		"Dermatology",
		"Cardiology",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}
	modeSets := [][]string{
		{"online"},
		{"online", "in_person"},
		{"in_person", "home_visit"},
		{"online", "in_person", "home_visit"},
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := "Dr. " + gofakeit.Name()
		spec := specializations[gofakeit.Number(0, len(specializations)-1)]
		modes := modeSets[gofakeit.Number(0, len(modeSets)-1)]
		fee := int64(gofakeit.Number(30, 200)) * 100 // cents
		rating := float64(gofakeit.Number(25, 50)) / 10

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, specialization, experience_years, rating, patients,
				consultation_fee, modes, description, available, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, true, now(), now())
		`, id, name, spec,
			gofakeit.Number(2, 30),
			rating,
			gofakeit.Number(50, 5000),
			fee, modes,
			gofakeit.Sentence(12),
		)
		if err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("doctors seeded")
	return ids, nil
}

func seedSlots(ctx context.Context, pool *pgxpool.Pool, doctorIDs []uuid.UUID) error {
	log.Printf("seeding slots for %d doctors", len(doctorIDs))

	dayStart := time.Now().Truncate(24 * time.Hour).Add(24 * time.Hour) // tomorrow 00:00

	for _, doctorID := range doctorIDs {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for day := 0; day < slotDays; day++ {
			first := dayStart.AddDate(0, 0, day).Add(9 * time.Hour)
			for i := 0; i < slotsPerDay; i++ {
				start := first.Add(time.Duration(i) * slotDuration)

				_, err := tx.Exec(ctx, `
					INSERT INTO time_slots (id, doctor_id, start_time, end_time, status, created_at, updated_at)
					VALUES ($1, $2, $3, $4, 'free', now(), now())
				`, uuid.New(), doctorID, start, start.Add(slotDuration))
				if err != nil {
					_ = tx.Rollback(ctx)
					return err
				}
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}

	log.Println("slots seeded")
	return nil
}
