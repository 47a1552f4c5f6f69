package run

//go:generate mockgen -write_package_comment=false -package=$GOPACKAGE -destination=mock_sink_test.go github.com/eaburns/ilgraph/internal/run Sink
