package predictor

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Node представляет узел регрессионного дерева в плоском массиве.
// Плоское представление сериализуется без рекурсии.
type Node struct {
	Feature   int     `msgpack:"f"`
	Threshold float64 `msgpack:"t"`
	Left      int     `msgpack:"l"`
	Right     int     `msgpack:"r"`
	Value     float64 `msgpack:"v"`
	Leaf      bool    `msgpack:"leaf"`
}

// Tree представляет одно регрессионное дерево
type Tree struct {
	Nodes []Node `msgpack:"nodes"`
}

// Forest представляет ансамбль регрессионных деревьев (random forest).
// Обучение детерминировано при фиксированном seed.
type Forest struct {
	Trees       []Tree    `msgpack:"trees"`
	NumFeatures int       `msgpack:"num_features"`
	Importance  []float64 `msgpack:"importance"`
}

// forestParams параметры обучения леса
type forestParams struct {
	numTrees int
	maxDepth int
	minLeaf  int
	seed     int64
}

// trainForest обучает random forest: бутстрэп-выборка по строкам и
// случайное подмножество признаков в каждом разбиении
func trainForest(x [][]float64, y []float64, params forestParams) *Forest {
	numFeatures := len(x[0])
	forest := &Forest{
		Trees:       make([]Tree, 0, params.numTrees),
		NumFeatures: numFeatures,
		Importance:  make([]float64, numFeatures),
	}

	// Для регрессии стандартное число признаков на разбиение — p/3
	maxFeatures := numFeatures / 3
	if maxFeatures < 1 {
		maxFeatures = 1
	}

	rng := rand.New(rand.NewSource(params.seed))
	for t := 0; t < params.numTrees; t++ {
		indices := make([]int, len(x))
		for i := range indices {
			indices[i] = rng.Intn(len(x))
		}

		builder := &treeBuilder{
			x:           x,
			y:           y,
			maxDepth:    params.maxDepth,
			minLeaf:     params.minLeaf,
			maxFeatures: maxFeatures,
			rng:         rng,
			importance:  forest.Importance,
		}
		builder.grow(indices, 0)
		forest.Trees = append(forest.Trees, Tree{Nodes: builder.nodes})
	}

	// Нормализуем важность признаков к сумме 1
	var total float64
	for _, v := range forest.Importance {
		total += v
	}
	if total > 0 {
		for i := range forest.Importance {
			forest.Importance[i] /= total
		}
	}

	return forest
}

// Predict возвращает прогноз леса и прогнозы отдельных деревьев.
// Разброс прогнозов по деревьям служит основой доверительного интервала.
func (f *Forest) Predict(row []float64) (float64, []float64) {
	preds := make([]float64, len(f.Trees))
	for i := range f.Trees {
		preds[i] = f.Trees[i].predict(row)
	}
	return stat.Mean(preds, nil), preds
}

func (t *Tree) predict(row []float64) float64 {
	i := 0
	for {
		node := t.Nodes[i]
		if node.Leaf {
			return node.Value
		}
		if row[node.Feature] <= node.Threshold {
			i = node.Left
		} else {
			i = node.Right
		}
	}
}

// treeBuilder строит одно дерево рекурсивным разбиением по SSE
type treeBuilder struct {
	x           [][]float64
	y           []float64
	maxDepth    int
	minLeaf     int
	maxFeatures int
	rng         *rand.Rand
	importance  []float64
	nodes       []Node
}

// grow добавляет узел для выборки indices и возвращает его индекс
func (b *treeBuilder) grow(indices []int, depth int) int {
	mean, sse := meanSSE(b.y, indices)

	nodeIdx := len(b.nodes)
	b.nodes = append(b.nodes, Node{Leaf: true, Value: mean})

	if depth >= b.maxDepth || len(indices) < 2*b.minLeaf || sse == 0 {
		return nodeIdx
	}

	feature, threshold, gain, ok := b.bestSplit(indices, sse)
	if !ok {
		return nodeIdx
	}

	var left, right []int
	for _, i := range indices {
		if b.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) < b.minLeaf || len(right) < b.minLeaf {
		return nodeIdx
	}

	b.importance[feature] += gain

	leftIdx := b.grow(left, depth+1)
	rightIdx := b.grow(right, depth+1)

	b.nodes[nodeIdx] = Node{
		Feature:   feature,
		Threshold: threshold,
		Left:      leftIdx,
		Right:     rightIdx,
	}
	return nodeIdx
}

// bestSplit перебирает случайное подмножество признаков и ищет порог
// с максимальным снижением SSE
func (b *treeBuilder) bestSplit(indices []int, parentSSE float64) (int, float64, float64, bool) {
	bestGain := 0.0
	bestFeature := -1
	bestThreshold := 0.0

	features := b.rng.Perm(len(b.x[indices[0]]))[:b.maxFeatures]

	sorted := make([]int, len(indices))
	for _, feature := range features {
		copy(sorted, indices)
		sort.Slice(sorted, func(i, j int) bool {
			return b.x[sorted[i]][feature] < b.x[sorted[j]][feature]
		})

		// Префиксные суммы позволяют оценить SSE каждого разбиения за O(1)
		var leftSum, leftSq float64
		var totalSum, totalSq float64
		for _, i := range sorted {
			totalSum += b.y[i]
			totalSq += b.y[i] * b.y[i]
		}

		n := float64(len(sorted))
		for k := 0; k < len(sorted)-1; k++ {
			yi := b.y[sorted[k]]
			leftSum += yi
			leftSq += yi * yi

			// Разбиение возможно только между различными значениями
			cur := b.x[sorted[k]][feature]
			next := b.x[sorted[k+1]][feature]
			if cur == next {
				continue
			}

			nl := float64(k + 1)
			nr := n - nl
			if int(nl) < b.minLeaf || int(nr) < b.minLeaf {
				continue
			}

			rightSum := totalSum - leftSum
			rightSq := totalSq - leftSq
			sseLeft := leftSq - leftSum*leftSum/nl
			sseRight := rightSq - rightSum*rightSum/nr

			gain := parentSSE - sseLeft - sseRight
			if gain > bestGain {
				bestGain = gain
				bestFeature = feature
				bestThreshold = (cur + next) / 2
			}
		}
	}

	if bestFeature < 0 {
		return 0, 0, 0, false
	}
	return bestFeature, bestThreshold, bestGain, true
}

func meanSSE(y []float64, indices []int) (float64, float64) {
	var sum, sq float64
	for _, i := range indices {
		sum += y[i]
		sq += y[i] * y[i]
	}
	n := float64(len(indices))
	mean := sum / n
	sse := sq - sum*sum/n
	if sse < 0 {
		sse = 0 // защита от потери точности
	}
	return mean, sse
}

// Scaler стандартизует признаки по статистике обучающей выборки
type Scaler struct {
	Mean []float64 `msgpack:"mean"`
	Std  []float64 `msgpack:"std"`
}

// fitScaler подбирает среднее и стандартное отклонение по каждому признаку
func fitScaler(x [][]float64) *Scaler {
	numFeatures := len(x[0])
	s := &Scaler{
		Mean: make([]float64, numFeatures),
		Std:  make([]float64, numFeatures),
	}

	column := make([]float64, len(x))
	for j := 0; j < numFeatures; j++ {
		for i := range x {
			column[i] = x[i][j]
		}
		s.Mean[j] = stat.Mean(column, nil)
		s.Std[j] = stat.StdDev(column, nil)
		if s.Std[j] == 0 || math.IsNaN(s.Std[j]) {
			s.Std[j] = 1
		}
	}
	return s
}

// Transform возвращает стандартизованную копию строки
func (s *Scaler) Transform(row []float64) []float64 {
	out := make([]float64, len(row))
	for j := range row {
		out[j] = (row[j] - s.Mean[j]) / s.Std[j]
	}
	return out
}
