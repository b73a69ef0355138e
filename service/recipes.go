package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/timzifer/pulsed/config"
	"github.com/timzifer/pulsed/internal/reload"
	"github.com/timzifer/pulsed/recipe"
)

// LoadRecipes (re)reads every configured recipe directory. On error the
// previously loaded recipes stay in place.
func (s *Service) LoadRecipes() error {
	loaded := make(map[string]*recipe.Recipe)
	for _, dir := range s.cfg.Recipes.Dirs {
		recipes, err := recipe.LoadDir(dir)
		if err != nil {
			return err
		}
		for _, r := range recipes {
			if prev, ok := loaded[r.Name]; ok {
				return fmt.Errorf("recipe %s defined in %s and %s", r.Name, prev.Source(), r.Source())
			}
			loaded[r.Name] = r
		}
	}
	s.mu.Lock()
	s.recipes = loaded
	s.mu.Unlock()
	s.logger.Debug().Int("recipes", len(loaded)).Msg("recipes loaded")
	return nil
}

// AddRecipe registers a recipe that does not come from a recipe directory.
// It is dropped by the next LoadRecipes.
func (s *Service) AddRecipe(r *recipe.Recipe) {
	s.mu.Lock()
	s.recipes[r.Name] = r
	s.mu.Unlock()
}

// Recipes lists the loaded recipe names, sorted.
func (s *Service) Recipes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.recipes))
	for name := range s.recipes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ImportRecipe builds the named recipe and writes the generated entities into
// the store. The overrides are remembered so a hot reload regenerates the
// entities with the same parameters.
func (s *Service) ImportRecipe(name string, overrides map[string]float64) (*recipe.Generated, error) {
	s.mu.RLock()
	r, ok := s.recipes[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("recipe %q not found", name)
	}
	gen, err := r.Build(overrides)
	if err != nil {
		return nil, err
	}
	for _, block := range gen.Blocks {
		if err := s.store.PutBlock(block); err != nil {
			return nil, err
		}
	}
	if err := s.store.PutEnsemble(gen.Ensemble); err != nil {
		return nil, err
	}
	if gen.Sequence != nil {
		if err := s.store.PutSequence(gen.Sequence); err != nil {
			return nil, err
		}
	}

	kept := make(map[string]float64, len(overrides))
	for k, v := range overrides {
		kept[k] = v
	}
	s.mu.Lock()
	s.imported[name] = kept
	s.mu.Unlock()

	s.logger.Info().
		Str("recipe", name).
		Int("blocks", len(gen.Blocks)).
		Str("ensemble", gen.Ensemble.Name()).
		Bool("sequence", gen.Sequence != nil).
		Msg("recipe imported")
	return gen, nil
}

// Watch polls the configuration file and the recipe directories until ctx is
// done. Changed recipes are reloaded and every previously imported recipe is
// rebuilt. Configuration changes other than recipes require a restart and
// are only logged.
func (s *Service) Watch(ctx context.Context, configPath string) error {
	watcher, err := reload.NewWatcher(configPath, s.cfg)
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	err = watcher.Poll(ctx, s.cfg.RecipeInterval(), func(changed []string) {
		s.handleChanges(watcher, configPath, changed)
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (s *Service) handleChanges(watcher *reload.Watcher, configPath string, changed []string) {
	logger := s.logger.With().Strs("files", changed).Logger()
	if err := s.LoadRecipes(); err != nil {
		logger.Error().Err(err).Msg("failed to reload recipes")
		// the broken file is reported again once it changes
		if err := watcher.Update(configPath, s.cfg); err != nil {
			logger.Error().Err(err).Msg("failed to update watcher state")
		}
		return
	}

	s.mu.RLock()
	imported := make(map[string]map[string]float64, len(s.imported))
	for name, overrides := range s.imported {
		imported[name] = overrides
	}
	s.mu.RUnlock()
	names := make([]string, 0, len(imported))
	for name := range imported {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := s.ImportRecipe(name, imported[name]); err != nil {
			logger.Error().Err(err).Str("recipe", name).Msg("failed to rebuild recipe")
		}
	}

	for _, file := range changed {
		s.telemetry.IncHotReload(file)
		if s.cfg.Source.File != "" && file == s.cfg.Source.File {
			logger.Warn().Str("file", file).Msg("configuration changed, restart to apply")
		}
	}
	if err := watcher.Update(configPath, s.cfg); err != nil {
		logger.Error().Err(err).Msg("failed to update watcher state")
	}
	logger.Info().Msg("hot reload applied")
}

// SourceFiles lists the files the service watches.
func (s *Service) SourceFiles() []string { return config.SourceFiles(s.cfg) }
