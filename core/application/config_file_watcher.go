package application

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/verbatimhq/verbatim/core/config"
)

type fileHandler func(fileContent []byte, appConfig *config.ApplicationConfig) error

// configFileHandler watches the dynamic config directory and reapplies known
// files on change: API keys, mode profiles and the vocabulary seed.
type configFileHandler struct {
	handlers map[string]fileHandler

	watcher *fsnotify.Watcher

	appConfig *config.ApplicationConfig
}

func newConfigFileHandler(app *Application) configFileHandler {
	appConfig := app.ApplicationConfig()
	c := configFileHandler{
		handlers:  make(map[string]fileHandler),
		appConfig: appConfig,
	}
	if err := c.Register("api_keys.json", readApiKeysJson(*appConfig), true); err != nil {
		log.Error().Err(err).Str("file", "api_keys.json").Msg("unable to register config file handler")
	}
	if err := c.Register(modeProfilesFile, readModeProfiles(app), false); err != nil {
		log.Error().Err(err).Str("file", modeProfilesFile).Msg("unable to register config file handler")
	}
	if err := c.Register(vocabularySeedFile, readVocabularySeed(app), false); err != nil {
		log.Error().Err(err).Str("file", vocabularySeedFile).Msg("unable to register config file handler")
	}
	return c
}

func (c *configFileHandler) Register(filename string, handler fileHandler, runNow bool) error {
	_, ok := c.handlers[filename]
	if ok {
		return fmt.Errorf("handler already registered for file %s", filename)
	}
	c.handlers[filename] = handler
	if runNow {
		c.callHandler(filename, handler)
	}
	return nil
}

func (c *configFileHandler) callHandler(filename string, handler fileHandler) {
	rootedFilePath := filepath.Join(c.appConfig.DynamicConfigsDir, filepath.Clean(filename))
	log.Debug().Str("filename", rootedFilePath).Msg("reading file for dynamic config update")
	fileContent, err := os.ReadFile(rootedFilePath)
	if err != nil && !os.IsNotExist(err) {
		log.Error().Err(err).Str("filename", rootedFilePath).Msg("could not read file")
	}

	if err = handler(fileContent, c.appConfig); err != nil {
		log.Error().Err(err).Str("filename", rootedFilePath).Msg("config file handler failed to apply update")
	}
}

func (c *configFileHandler) Watch() error {
	configWatcher, err := fsnotify.NewWatcher()
	c.watcher = configWatcher
	if err != nil {
		return err
	}

	if c.appConfig.DynamicConfigsDirPollInterval > 0 {
		log.Debug().Msg("poll interval set, falling back to polling for configuration changes")
		ticker := time.NewTicker(c.appConfig.DynamicConfigsDirPollInterval)
		go func() {
			for {
				<-ticker.C
				for file, handler := range c.handlers {
					log.Debug().Str("file", file).Msg("polling config file")
					c.callHandler(file, handler)
				}
			}
		}()
	}

	// Start listening for events.
	go func() {
		for {
			select {
			case event, ok := <-c.watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write | fsnotify.Create | fsnotify.Remove) {
					handler, ok := c.handlers[path.Base(event.Name)]
					if !ok {
						continue
					}

					c.callHandler(filepath.Base(event.Name), handler)
				}
			case err, ok := <-c.watcher.Errors:
				log.Error().Err(err).Msg("config watcher error received")
				if !ok {
					return
				}
			}
		}
	}()

	err = c.watcher.Add(c.appConfig.DynamicConfigsDir)
	if err != nil {
		return fmt.Errorf("unable to create a watcher on the configuration directory: %+v", err)
	}

	return nil
}

func (c *configFileHandler) Stop() error {
	if c.watcher == nil {
		return nil
	}
	return c.watcher.Close()
}

// startWatcher wires the dynamic config watcher if a directory is set. The
// directory was created by New, so a failure here is a real watch failure.
func (a *Application) startWatcher() {
	if a.applicationConfig.DynamicConfigsDir == "" {
		return
	}

	handler := newConfigFileHandler(a)
	a.configHandler = &handler
	if err := handler.Watch(); err != nil {
		log.Error().Err(err).Msg("failed creating config watcher")
	}
}

func readApiKeysJson(startupAppConfig config.ApplicationConfig) fileHandler {
	handler := func(fileContent []byte, appConfig *config.ApplicationConfig) error {
		log.Debug().Msg("processing api keys runtime update")
		log.Trace().Int("numKeys", len(startupAppConfig.ApiKeys)).Msg("api keys provided at startup")

		if len(fileContent) > 0 {
			var fileKeys []string
			err := json.Unmarshal(fileContent, &fileKeys)
			if err != nil {
				return err
			}

			log.Trace().Int("numKeys", len(fileKeys)).Msg("discovered API keys from api keys dynamic config file")

			appConfig.ApiKeys = append(startupAppConfig.ApiKeys, fileKeys...)
		} else {
			log.Trace().Msg("no API keys discovered from dynamic config file")
			appConfig.ApiKeys = startupAppConfig.ApiKeys
		}
		log.Trace().Int("numKeys", len(appConfig.ApiKeys)).Msg("total api keys after processing")
		return nil
	}

	return handler
}

// readModeProfiles rebuilds the mode profiles from the override file and swaps
// them into the orchestrator. An empty or removed file restores the defaults;
// a malformed file keeps the profiles that are already live.
func readModeProfiles(app *Application) fileHandler {
	return func(fileContent []byte, appConfig *config.ApplicationConfig) error {
		profiles := config.DefaultModeProfiles()
		if len(fileContent) > 0 {
			if err := profiles.MergeYAML(fileContent); err != nil {
				return err
			}
		}
		app.Orchestrator().SetProfiles(profiles)
		return nil
	}
}

func readVocabularySeed(app *Application) fileHandler {
	return func(fileContent []byte, appConfig *config.ApplicationConfig) error {
		if len(fileContent) == 0 {
			return nil
		}
		return app.VocabularyService().LoadSeed(appConfig.Context, fileContent)
	}
}
