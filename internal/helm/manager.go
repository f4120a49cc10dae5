package helm

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/cockroachdb/errors"
	"helm.sh/helm/v4/pkg/action"
	"helm.sh/helm/v4/pkg/chart"
	"helm.sh/helm/v4/pkg/chart/loader"
	"helm.sh/helm/v4/pkg/cli"
	"helm.sh/helm/v4/pkg/kube"
	"helm.sh/helm/v4/pkg/registry"
	"helm.sh/helm/v4/pkg/release"

	"github.com/lexfrei/kafka-mtls-bootstrap/internal/metrics"
)

const (
	// DefaultTimeout bounds a single install, upgrade or uninstall including the wait.
	DefaultTimeout = 10 * time.Minute

	ociPrefix = "oci://"
)

// ChartSource describes where a chart comes from.
//
// With RepoURL set the chart is resolved from a classic HTTP repository, which
// is what `helm repo add <RepoName> <RepoURL>` followed by `<RepoName>/<Chart>`
// does. A Chart starting with oci:// is pulled from a registry. Anything else
// is treated as a local chart directory or archive.
type ChartSource struct {
	RepoName string
	RepoURL  string
	Chart    string
	Version  string
}

// IsOCI reports whether the chart is pulled from an OCI registry.
func (s ChartSource) IsOCI() bool {
	return strings.HasPrefix(s.Chart, ociPrefix)
}

// IsLocal reports whether the chart is read from the local filesystem.
func (s ChartSource) IsLocal() bool {
	return s.RepoURL == "" && !s.IsOCI()
}

// Ref returns the chart reference as a user would type it on the helm command line.
func (s ChartSource) Ref() string {
	if s.RepoURL != "" && s.RepoName != "" {
		return s.RepoName + "/" + s.Chart
	}

	return s.Chart
}

func (s ChartSource) cacheKey() string {
	return s.RepoURL + "|" + s.Chart + "|" + s.Version
}

type Manager struct {
	settings       *cli.EnvSettings
	registryClient *registry.Client
	metrics        metrics.Collector
	logger         *slog.Logger
	timeout        time.Duration

	chartCache map[string]chart.Charter
	cacheMu    sync.RWMutex
}

func NewManager(settings *cli.EnvSettings, metricsCollector metrics.Collector, logger *slog.Logger) (*Manager, error) {
	if settings == nil {
		settings = cli.New()
	}

	registryClient, err := registry.NewClient(
		registry.ClientOptDebug(false),
		registry.ClientOptEnableCache(true),
		registry.ClientOptCredentialsFile(settings.RegistryConfig),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create registry client")
	}

	if metricsCollector == nil {
		metricsCollector = metrics.NewNoopCollector()
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		settings:       settings,
		registryClient: registryClient,
		metrics:        metricsCollector,
		logger:         logger.With("component", "helm-manager"),
		timeout:        DefaultTimeout,
		chartCache:     make(map[string]chart.Charter),
	}, nil
}

// SetTimeout overrides DefaultTimeout for subsequent release operations.
func (m *Manager) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		m.timeout = timeout
	}
}

// Settings exposes the Helm environment, which also carries the kubeconfig
// used for every release operation.
func (m *Manager) Settings() *cli.EnvSettings {
	return m.settings
}

func (m *Manager) GetLatestVersion(_ context.Context, chartRef string) (string, error) {
	repo := extractRepoFromOCI(chartRef)

	tags, err := m.registryClient.Tags(repo)
	if err != nil {
		return "", errors.Wrap(err, "failed to get tags from registry")
	}

	if len(tags) == 0 {
		return "", errors.New("no tags found in registry")
	}

	versions := make([]*semver.Version, 0, len(tags))

	for _, tag := range tags {
		ver, parseErr := semver.NewVersion(tag)
		if parseErr != nil {
			continue
		}

		if ver.Prerelease() == "" {
			versions = append(versions, ver)
		}
	}

	if len(versions) == 0 {
		return "", errors.New("no valid semver versions found")
	}

	sort.Sort(semver.Collection(versions))

	return versions[len(versions)-1].Original(), nil
}

//nolint:funlen // pull, locate and load are one unit for the cache
func (m *Manager) LoadChart(ctx context.Context, source ChartSource) (chart.Charter, error) {
	if source.Chart == "" {
		return nil, errors.New("chart reference is empty")
	}

	err := ValidateVersion(source.Version)
	if err != nil {
		return nil, err
	}

	if source.IsOCI() && source.Version == "" {
		latest, latestErr := m.GetLatestVersion(ctx, source.Chart)
		if latestErr != nil {
			return nil, latestErr
		}

		source.Version = latest
	}

	key := source.cacheKey()

	m.cacheMu.RLock()

	if cached, ok := m.chartCache[key]; ok {
		m.cacheMu.RUnlock()

		return cached, nil
	}

	m.cacheMu.RUnlock()

	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()

	if cached, ok := m.chartCache[key]; ok {
		return cached, nil
	}

	var loadedChart chart.Charter

	if source.IsLocal() {
		loadedChart, err = loader.Load(source.Chart)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load chart from %s", source.Chart)
		}
	} else {
		loadedChart, err = m.pullChart(source)
		if err != nil {
			return nil, err
		}
	}

	m.chartCache[key] = loadedChart

	return loadedChart, nil
}

func (m *Manager) pullChart(source ChartSource) (chart.Charter, error) {
	m.logger.Info("pulling chart", "ref", source.Ref(), "repo", source.RepoURL, "version", source.Version)

	destDir, err := os.MkdirTemp("", "kmtls-chart-")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create chart download directory")
	}

	defer func() {
		_ = os.RemoveAll(destDir)
	}()

	pullConfig := &action.Configuration{
		RegistryClient: m.registryClient,
	}

	pullClient := action.NewPull(action.WithConfig(pullConfig))
	pullClient.Settings = m.settings
	pullClient.Version = source.Version
	pullClient.RepoURL = source.RepoURL
	pullClient.DestDir = destDir

	output, err := pullClient.Run(source.Chart)
	if err != nil {
		return nil, errors.Wrap(err, "failed to pull chart")
	}

	m.logger.Debug("chart pulled", "output", output)

	chartPath, err := findChartArchive(destDir)
	if err != nil {
		return nil, err
	}

	loadedChart, err := loader.Load(chartPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load chart")
	}

	return loadedChart, nil
}

func (m *Manager) GetActionConfig(namespace string) (*action.Configuration, error) {
	actionConfig := new(action.Configuration)

	err := actionConfig.Init(m.settings.RESTClientGetter(), namespace, "secret")
	if err != nil {
		return nil, errors.Wrap(err, "failed to init action config")
	}

	actionConfig.RegistryClient = m.registryClient

	return actionConfig, nil
}

func (m *Manager) Install(
	ctx context.Context,
	cfg *action.Configuration,
	releaseName, namespace string,
	loadedChart chart.Charter,
	values map[string]any,
) (release.Releaser, error) {
	startTime := time.Now()

	install := action.NewInstall(cfg)
	install.ReleaseName = releaseName
	install.Namespace = namespace
	install.CreateNamespace = false
	install.WaitStrategy = kube.StatusWatcherStrategy
	install.Timeout = m.timeout

	rel, err := install.RunWithContext(ctx, loadedChart, values)
	if err != nil {
		m.metrics.RecordHelmOperation(ctx, "install", "error", time.Since(startTime))
		m.metrics.RecordHelmError(ctx, "install", metrics.ClassifyKubeError(err))

		return nil, errors.Wrapf(err, "failed to install release %s", releaseName)
	}

	m.metrics.RecordHelmOperation(ctx, "install", "success", time.Since(startTime))
	m.recordChartInfo(ctx, loadedChart)

	return rel, nil
}

func (m *Manager) Upgrade(
	ctx context.Context,
	cfg *action.Configuration,
	releaseName, namespace string,
	loadedChart chart.Charter,
	values map[string]any,
) (release.Releaser, error) {
	startTime := time.Now()

	upgrade := action.NewUpgrade(cfg)
	upgrade.Namespace = namespace
	upgrade.WaitStrategy = kube.StatusWatcherStrategy
	upgrade.Timeout = m.timeout
	upgrade.ReuseValues = false

	rel, err := upgrade.RunWithContext(ctx, releaseName, loadedChart, values)
	if err != nil {
		m.metrics.RecordHelmOperation(ctx, "upgrade", "error", time.Since(startTime))
		m.metrics.RecordHelmError(ctx, "upgrade", metrics.ClassifyKubeError(err))

		return nil, errors.Wrapf(err, "failed to upgrade release %s", releaseName)
	}

	m.metrics.RecordHelmOperation(ctx, "upgrade", "success", time.Since(startTime))
	m.recordChartInfo(ctx, loadedChart)

	return rel, nil
}

// UpgradeInstall upgrades the release when it exists and installs it otherwise,
// the equivalent of `helm upgrade --install --wait`.
func (m *Manager) UpgradeInstall(
	ctx context.Context,
	cfg *action.Configuration,
	releaseName, namespace string,
	loadedChart chart.Charter,
	values map[string]any,
) (release.Releaser, error) {
	if m.ReleaseExists(cfg, releaseName) {
		m.logger.Info("upgrading release", "release", releaseName, "namespace", namespace)

		return m.Upgrade(ctx, cfg, releaseName, namespace, loadedChart, values)
	}

	m.logger.Info("installing release", "release", releaseName, "namespace", namespace)

	return m.Install(ctx, cfg, releaseName, namespace, loadedChart, values)
}

func (m *Manager) Uninstall(ctx context.Context, cfg *action.Configuration, releaseName string) error {
	startTime := time.Now()

	uninstall := action.NewUninstall(cfg)
	uninstall.WaitStrategy = kube.StatusWatcherStrategy
	uninstall.Timeout = m.timeout

	_, err := uninstall.Run(releaseName)
	if err != nil {
		m.metrics.RecordHelmOperation(ctx, "uninstall", "error", time.Since(startTime))
		m.metrics.RecordHelmError(ctx, "uninstall", metrics.ClassifyKubeError(err))

		return errors.Wrapf(err, "failed to uninstall release %s", releaseName)
	}

	m.metrics.RecordHelmOperation(ctx, "uninstall", "success", time.Since(startTime))

	return nil
}

func (m *Manager) GetRelease(cfg *action.Configuration, releaseName string) (release.Releaser, error) {
	get := action.NewGet(cfg)

	rel, err := get.Run(releaseName)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get release")
	}

	return rel, nil
}

func (m *Manager) ReleaseExists(cfg *action.Configuration, releaseName string) bool {
	_, err := m.GetRelease(cfg, releaseName)

	return err == nil
}

// ValidateVersion accepts an empty version (latest), an exact semver version or
// a semver constraint such as "^16.2".
//
//nolint:wrapcheck // errors.Newf creates new errors
func ValidateVersion(version string) error {
	if version == "" {
		return nil
	}

	_, versionErr := semver.NewVersion(version)
	if versionErr == nil {
		return nil
	}

	_, constraintErr := semver.NewConstraint(version)
	if constraintErr == nil {
		return nil
	}

	return errors.Newf("invalid chart version %q: not a semver version or constraint", version)
}

func extractRepoFromOCI(chartRef string) string {
	if len(chartRef) > len(ociPrefix) {
		return chartRef[len(ociPrefix):]
	}

	return chartRef
}

//nolint:wrapcheck // errors.Newf creates new errors
func findChartArchive(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.tgz"))
	if err != nil {
		return "", errors.Wrap(err, "failed to search chart archive")
	}

	switch len(matches) {
	case 0:
		return "", errors.Newf("no chart archive found in %s", dir)
	case 1:
		return matches[0], nil
	default:
		return "", errors.Newf("expected one chart archive in %s, found %d", dir, len(matches))
	}
}

func (m *Manager) recordChartInfo(ctx context.Context, loadedChart chart.Charter) {
	name, version, appVersion := ChartInfo(loadedChart)
	if name == "" {
		return
	}

	m.metrics.RecordHelmChartInfo(ctx, name, version, appVersion)
}

// ChartInfo returns name, version and appVersion from chart metadata.
// Empty strings are returned when the chart cannot be inspected.
func ChartInfo(loadedChart chart.Charter) (string, string, string) {
	if loadedChart == nil {
		return "", "", ""
	}

	accessor, err := chart.NewAccessor(loadedChart)
	if err != nil {
		return "", "", ""
	}

	metadata := accessor.MetadataAsMap()
	name, _ := metadata["name"].(string)
	version, _ := metadata["version"].(string)
	appVersion, _ := metadata["appVersion"].(string)

	return name, version, appVersion
}
