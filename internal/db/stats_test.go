package db

import (
	"math"
	"testing"
	"time"
)

func TestTrendLabel(t *testing.T) {
	tests := []struct {
		earlier, recent int64
		want            string
	}{
		{0, 0, TrendStable},
		{0, 5, TrendNewPopulation},
		{2, 3, TrendGrowing},
		{3, 2, TrendDeclining},
		{10, 10, TrendStable},
		{100, 105, TrendStable},
		{100, 106, TrendGrowing},
		{100, 95, TrendStable},
		{100, 94, TrendDeclining},
	}

	for _, tt := range tests {
		if got := trendLabel(tt.earlier, tt.recent); got != tt.want {
			t.Errorf("trendLabel(%d, %d) = %q, want %q", tt.earlier, tt.recent, got, tt.want)
		}
	}
}

func TestGetPopulationStats(t *testing.T) {
	db := SetupTestDB(t)

	base := time.Now().Unix()
	orig := nowUnix
	t.Cleanup(func() { nowUnix = orig })

	// Two registrations in the earlier half of the trailing 30 days.
	nowUnix = func() int64 { return base - 20*24*3600 }
	createTestAnimal(t, db, "GT-E1")
	createTestAnimal(t, db, "GT-E2")

	// Three in the recent half, inside the last week.
	nowUnix = func() int64 { return base - 5*24*3600 }
	createTestAnimal(t, db, "GT-R1")
	createTestAnimal(t, db, "GT-R2")
	sold := createTestAnimal(t, db, "GT-R3")

	nowUnix = func() int64 { return base }
	if err := db.UpdateAnimalStatus(sold.ID, AnimalStatusSold); err != nil {
		t.Fatalf("UpdateAnimalStatus failed: %v", err)
	}

	stats, err := db.GetPopulationStats()
	if err != nil {
		t.Fatalf("GetPopulationStats failed: %v", err)
	}

	if stats.TotalAnimals != 5 {
		t.Errorf("total = %d, want 5", stats.TotalAnimals)
	}
	if stats.ActiveAnimals != 4 {
		t.Errorf("active = %d, want 4", stats.ActiveAnimals)
	}
	if stats.NewThisWeek != 3 {
		t.Errorf("new this week = %d, want 3", stats.NewThisWeek)
	}
	// 3 recent vs 2 earlier registrations.
	if stats.Trend != TrendGrowing {
		t.Errorf("trend = %q, want growing", stats.Trend)
	}
	if stats.BreedCounts["Boer"] != 5 {
		t.Errorf("breed counts = %v, want Boer=5", stats.BreedCounts)
	}
}

func TestGetIdentityMetrics_Empty(t *testing.T) {
	db := SetupTestDB(t)

	m, err := db.GetIdentityMetrics()
	if err != nil {
		t.Fatalf("GetIdentityMetrics failed: %v", err)
	}
	if m.TotalIdentities != 0 || m.ValidationRate != 0 {
		t.Errorf("empty register should yield zero metrics, got %+v", m)
	}
}

func TestGetIdentityMetrics(t *testing.T) {
	db := SetupTestDB(t)

	base := time.Now().Unix()
	orig := nowUnix
	t.Cleanup(func() { nowUnix = orig })

	nowUnix = func() int64 { return base - 10*24*3600 }
	a1 := createTestAnimal(t, db, "GT-0001")
	a2 := createTestAnimal(t, db, "GT-0002")

	nowUnix = func() int64 { return base }
	if err := db.TouchAnimalLastSeen(a1.ID); err != nil {
		t.Fatalf("TouchAnimalLastSeen failed: %v", err)
	}

	// a1 sighted three times, a2 once: only a1 counts as validated.
	for i := 0; i < 3; i++ {
		e := &Event{AnimalID: &a1.ID, EventType: EventTypeSighting, Title: "Sighted"}
		if err := db.InsertEvent(e); err != nil {
			t.Fatalf("InsertEvent failed: %v", err)
		}
	}
	e := &Event{AnimalID: &a2.ID, EventType: EventTypeSighting, Title: "Sighted"}
	if err := db.InsertEvent(e); err != nil {
		t.Fatalf("InsertEvent failed: %v", err)
	}

	m, err := db.GetIdentityMetrics()
	if err != nil {
		t.Fatalf("GetIdentityMetrics failed: %v", err)
	}

	if m.TotalIdentities != 2 {
		t.Errorf("total = %d, want 2", m.TotalIdentities)
	}
	if m.ValidatedIdentities != 1 {
		t.Errorf("validated = %d, want 1", m.ValidatedIdentities)
	}
	if m.ValidationRate != 0.5 {
		t.Errorf("validation rate = %v, want 0.5", m.ValidationRate)
	}
	if m.AvgSightings != 2 {
		t.Errorf("avg sightings = %v, want 2", m.AvgSightings)
	}
	// a1 persisted 10 days, a2 zero: average 5.
	if math.Abs(m.AvgPersistenceDays-5) > 1e-9 {
		t.Errorf("avg persistence = %v days, want 5", m.AvgPersistenceDays)
	}
}

func TestTopAnimals(t *testing.T) {
	db := SetupTestDB(t)

	a1 := createTestAnimal(t, db, "GT-0001")
	a2 := createTestAnimal(t, db, "GT-0002")
	createTestAnimal(t, db, "GT-0003") // never sighted

	for i := 0; i < 3; i++ {
		e := &Event{AnimalID: &a1.ID, EventType: EventTypeSighting, Title: "Sighted"}
		if err := db.InsertEvent(e); err != nil {
			t.Fatalf("InsertEvent failed: %v", err)
		}
	}
	e := &Event{AnimalID: &a2.ID, EventType: EventTypeSighting, Title: "Sighted"}
	if err := db.InsertEvent(e); err != nil {
		t.Fatalf("InsertEvent failed: %v", err)
	}

	top, err := db.TopAnimals(0)
	if err != nil {
		t.Fatalf("TopAnimals failed: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("expected 2 sighted animals, got %d", len(top))
	}
	if top[0].AnimalID != a1.ID || top[0].Sightings != 3 {
		t.Errorf("top[0] = %+v, want animal %d with 3 sightings", top[0], a1.ID)
	}
	if top[1].AnimalID != a2.ID || top[1].Sightings != 1 {
		t.Errorf("top[1] = %+v, want animal %d with 1 sighting", top[1], a2.ID)
	}
	if top[0].EarTag != "GT-0001" {
		t.Errorf("top[0].EarTag = %q, want GT-0001", top[0].EarTag)
	}
}

func TestGetVideoThroughput(t *testing.T) {
	db := SetupTestDB(t)

	v1 := createTestVideo(t, db, "a.mp4")
	v2 := createTestVideo(t, db, "b.mp4")
	v3 := createTestVideo(t, db, "c.mp4")
	createTestVideo(t, db, "d.mp4") // stays pending

	if err := db.CompleteVideo(v1.ID, VideoStatusCompleted, 100, 500, 10, nil); err != nil {
		t.Fatalf("CompleteVideo failed: %v", err)
	}
	if err := db.CompleteVideo(v2.ID, VideoStatusCompletedWithWarnings, 200, 300, 20, nil); err != nil {
		t.Fatalf("CompleteVideo failed: %v", err)
	}
	if err := db.MarkVideoFailed(v3.ID, "SYSTEM_FAULT: boom"); err != nil {
		t.Fatalf("MarkVideoFailed failed: %v", err)
	}

	tp, err := db.GetVideoThroughput()
	if err != nil {
		t.Fatalf("GetVideoThroughput failed: %v", err)
	}

	if tp.TotalVideos != 4 {
		t.Errorf("total = %d, want 4", tp.TotalVideos)
	}
	if tp.Completed != 2 {
		t.Errorf("completed = %d, want 2 (warnings count as completed)", tp.Completed)
	}
	if tp.Failed != 1 {
		t.Errorf("failed = %d, want 1", tp.Failed)
	}
	if tp.TotalDetections != 800 {
		t.Errorf("total detections = %d, want 800", tp.TotalDetections)
	}
	if tp.AvgUniqueGoats != 15 {
		t.Errorf("avg unique goats = %v, want 15", tp.AvgUniqueGoats)
	}
}
