package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/annel0/voxel-terrain/internal/resource"
	"github.com/annel0/voxel-terrain/internal/terraingen"
)

func main() {
	def := terraingen.DefaultOptions()
	var (
		out        = flag.String("out", "", "путь к выходному .vxdb файлу")
		badgerDir  = flag.String("badger", "", "каталог BadgerDB, куда положить базу вместо файла")
		id         = flag.String("id", "terrain.vxdb", "идентификатор ресурса в BadgerDB")
		seed       = flag.Int64("seed", def.Seed, "сид шума")
		size       = flag.Int("size", def.SizeX, "размер карты в вокселях по X и Y")
		base       = flag.Float64("base", def.BaseHeight, "средняя высота поверхности")
		amplitude  = flag.Float64("amplitude", def.Amplitude, "размах холмов")
		frequency  = flag.Float64("frequency", def.Frequency, "частота шума на воксель")
		depth      = flag.Int("depth", def.Depth, "толщина подложки")
		caves      = flag.Bool("caves", false, "вырезать пещеры 3D шумом")
		occupancy  = flag.Bool("occupancy", false, "добавить логический грид занятости")
		voxelSize  = flag.Float64("voxel", def.VoxelSize, "размер вокселя в мире")
		natsURL    = flag.String("nats", "", "NATS для уведомления серверов об изменении базы")
		logVerbose = flag.Bool("v", false, "подробный лог")
	)
	flag.Parse()

	if (*out == "") == (*badgerDir == "") {
		log.Fatalf("Нужно указать ровно один из -out или -badger")
	}

	lopts := logging.DefaultOptions()
	if *logVerbose {
		lopts.ConsoleLevel = logging.DEBUG
	}
	logger, err := logging.New("voxelgen", lopts)
	if err != nil {
		log.Fatalf("Ошибка инициализации логирования: %v", err)
	}
	defer logger.Close()

	opts := def
	opts.Seed = *seed
	opts.SizeX, opts.SizeY = *size, *size
	opts.BaseHeight = *base
	opts.Amplitude = *amplitude
	opts.Frequency = *frequency
	opts.Depth = *depth
	opts.Caves = *caves
	opts.Occupancy = *occupancy
	opts.VoxelSize = *voxelSize

	gen, err := terraingen.New(opts, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}
	data, err := gen.Encode()
	if err != nil {
		log.Fatalf("%v", err)
	}

	if *out != "" {
		if dir := filepath.Dir(*out); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				log.Fatalf("Ошибка создания каталога %s: %v", dir, err)
			}
		}
		if err := os.WriteFile(*out, data, 0o644); err != nil {
			log.Fatalf("Ошибка записи %s: %v", *out, err)
		}
		logger.Infof("База записана в %s (%d байт)", *out, len(data))
		notify(*natsURL, filepath.Base(*out), logger)
		return
	}

	store, err := resource.OpenBadgerStore(*badgerDir)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer store.Close()
	if err := store.Put(*id, data); err != nil {
		log.Fatalf("Ошибка записи ресурса %q: %v", *id, err)
	}
	logger.Infof("База %q записана в BadgerDB %s (%d байт)", *id, *badgerDir, len(data))
	notify(*natsURL, *id, logger)
}

// notify рассылает инвалидацию перезаписанной базы
func notify(url, id string, log logging.Interface) {
	if url == "" {
		return
	}
	inv, err := resource.NewInvalidator(resource.InvalidatorConfig{URL: url}, "voxelgen", log)
	if err != nil {
		log.Warnf("Серверы не уведомлены: %v", err)
		return
	}
	defer inv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := inv.Publish(ctx, id, "voxelgen"); err != nil {
		log.Warnf("Серверы не уведомлены: %v", err)
	}
}
