/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package synthesis

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-voice/internal/apperr"
	"github.com/loqalabs/loqa-voice/internal/backend"
	"github.com/loqalabs/loqa-voice/internal/backend/backendtest"
)

func refFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ref.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF....WAVE"), 0o600))
	return path
}

func TestBackendIsBuiltLazily(t *testing.T) {
	built := 0
	fake := backendtest.New()
	svc := NewService(func() (backend.Backend, error) {
		built++
		return fake, nil
	})
	assert.Equal(t, 0, built)

	models, err := svc.AvailableModels()
	require.NoError(t, err)
	assert.Equal(t, fake.Catalog, models)

	_, err = svc.BackendInfo()
	require.NoError(t, err)
	assert.Equal(t, 1, built)
}

func TestFactoryFailureIsModelUnavailable(t *testing.T) {
	svc := NewService(func() (backend.Backend, error) { return nil, errors.New("no gpu") })

	err := svc.Initialize(context.Background(), "")
	assert.ErrorIs(t, err, apperr.ErrModelUnavailable)

	_, err = svc.BackendInfo()
	assert.ErrorIs(t, err, apperr.ErrModelUnavailable)
}

func TestInitializeDefaultsToFirstModel(t *testing.T) {
	fake := backendtest.New()
	svc := NewService(fake.Factory())

	require.NoError(t, svc.Initialize(context.Background(), ""))
	assert.Equal(t, "fake/model-small", svc.CurrentModel())

	info, err := svc.BackendInfo()
	require.NoError(t, err)
	require.NotNil(t, info.CurrentModel)
	assert.Equal(t, "fake/model-small", *info.CurrentModel)
	assert.Equal(t, "fake", info.Platform)
	assert.Equal(t, backend.DefaultSampleRate, info.SampleRate)
}

func TestInitializeEmptyCatalog(t *testing.T) {
	fake := backendtest.New()
	fake.Catalog = nil
	svc := NewService(fake.Factory())

	err := svc.Initialize(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoModelsAvailable)
	assert.ErrorIs(t, err, apperr.ErrModelUnavailable)
}

func TestInitializeInvalidModel(t *testing.T) {
	svc := NewService(backendtest.New().Factory())

	err := svc.Initialize(context.Background(), "nope")
	assert.ErrorIs(t, err, backend.ErrInvalidModel)
	assert.Empty(t, svc.CurrentModel())

	info, err := svc.BackendInfo()
	require.NoError(t, err)
	assert.Nil(t, info.CurrentModel)
}

func TestGenerateAutoInitializes(t *testing.T) {
	fake := backendtest.New()
	fake.Samples = []float32{0.1, 0.2}
	svc := NewService(fake.Factory())

	res, err := svc.Generate(context.Background(), "hola", refFile(t), "ref", nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, res.Samples)
	assert.Equal(t, "fake/model-small", res.Model)
	assert.Equal(t, backend.DefaultSampleRate, res.SampleRate)
	assert.Equal(t, []string{"fake/model-small"}, fake.Loads())
}

func TestGenerateWithoutModelUsesDefault(t *testing.T) {
	fake := backendtest.New()
	svc := NewService(fake.Factory())
	ctx := context.Background()
	ref := refFile(t)

	require.NoError(t, svc.Initialize(ctx, "fake/model-large"))

	res, err := svc.GenerateWithModel(ctx, "fake/model-large", "x", ref, "r", nil)
	require.NoError(t, err)
	assert.Equal(t, "fake/model-large", res.Model)
	assert.Equal(t, []string{"fake/model-large"}, fake.Loads(), "reloading the resident model is a no-op")

	res, err = svc.Generate(ctx, "x", ref, "r", nil)
	require.NoError(t, err)
	assert.Equal(t, "fake/model-small", res.Model, "no model means the first catalog entry")
	assert.Equal(t, "fake/model-small", svc.CurrentModel())

	res, err = svc.GenerateWithModel(ctx, "", "x", ref, "r", nil)
	require.NoError(t, err)
	assert.Equal(t, "fake/model-small", res.Model)
	assert.Equal(t, []string{"fake/model-large", "fake/model-small"}, fake.Loads())
}

func TestLoadObserverSeesModelSwitches(t *testing.T) {
	type load struct {
		model string
		ok    bool
	}
	var seen []load

	fake := backendtest.New()
	svc := NewService(fake.Factory(), WithLoadObserver(func(model string, err error) {
		seen = append(seen, load{model, err == nil})
	}))
	ctx := context.Background()

	require.NoError(t, svc.Initialize(ctx, "fake/model-small"))
	require.NoError(t, svc.Initialize(ctx, "fake/model-small"))
	assert.Error(t, svc.Initialize(ctx, "missing"))
	require.NoError(t, svc.Initialize(ctx, "fake/model-large"))

	assert.Equal(t, []load{
		{"fake/model-small", true},
		{"missing", false},
		{"fake/model-large", true},
	}, seen)
}

func TestGenerateReferenceAudioMissing(t *testing.T) {
	svc := NewService(backendtest.New().Factory())

	_, err := svc.Generate(context.Background(), "x", filepath.Join(t.TempDir(), "missing.wav"), "r", nil)
	assert.ErrorIs(t, err, apperr.ErrReferenceAudioMissing)
}

func TestGenerateClassifiesBackendErrors(t *testing.T) {
	fake := backendtest.New()
	fake.GenerateErr = errors.New("out of memory")
	svc := NewService(fake.Factory())

	_, err := svc.Generate(context.Background(), "x", refFile(t), "r", nil)
	assert.ErrorIs(t, err, apperr.ErrGenerationFailed)
	assert.Contains(t, err.Error(), "out of memory")

	fake.GenerateErr = backend.ErrUnimplemented
	_, err = svc.Generate(context.Background(), "x", refFile(t), "r", nil)
	assert.ErrorIs(t, err, apperr.ErrModelUnavailable)
}

func TestGenerateForwardsProgress(t *testing.T) {
	svc := NewService(backendtest.New().Factory())

	var stages []backend.Stage
	_, err := svc.Generate(context.Background(), "x", refFile(t), "r", func(p backend.Progress) {
		stages = append(stages, p.Stage)
	})
	require.NoError(t, err)
	assert.Equal(t, []backend.Stage{
		backend.StageReferenceLoaded,
		backend.StageGenerationStarted,
		backend.StageGenerationFinished,
	}, stages)
}

func TestConcurrentModelRequestsAreSerialized(t *testing.T) {
	fake := backendtest.New()
	fake.Block = make(chan struct{})
	svc := NewService(fake.Factory())
	ctx := context.Background()
	ref := refFile(t)

	results := make(chan Result, 2)
	var wg sync.WaitGroup
	for _, model := range []string{"fake/model-small", "fake/model-large"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.GenerateWithModel(ctx, model, "x", ref, "r", nil)
			assert.NoError(t, err)
			results <- res
		}()
	}

	// Only one generation may be inside the backend at a time.
	require.Eventually(t, func() bool { return len(fake.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, fake.Calls(), 1)

	// Read-only queries are not blocked by the running generation.
	_, err := svc.BackendInfo()
	require.NoError(t, err)

	close(fake.Block)
	wg.Wait()
	close(results)

	models := []string{"fake/model-small", "fake/model-large"}
	var produced []string
	for res := range results {
		produced = append(produced, res.Model)
	}
	assert.ElementsMatch(t, models, produced)

	var used []string
	for _, call := range fake.Calls() {
		used = append(used, call.Model)
	}
	assert.ElementsMatch(t, models, used, "each generation ran with the model it asked for")
}

func TestClose(t *testing.T) {
	fake := backendtest.New()
	svc := NewService(fake.Factory())

	svc.Close()

	require.NoError(t, svc.Initialize(context.Background(), ""))
	svc.Close()
	assert.False(t, fake.IsModelLoaded())
	assert.Empty(t, svc.CurrentModel())
}
